package model

// Category classifies the bank products the exporter knows about.
type Category string

const (
	CategoryUzcard  Category = "uzcard"
	CategoryHumo    Category = "humo"
	CategoryVisa    Category = "visa"
	CategoryWallet  Category = "wallet"
	CategoryAccount Category = "account"
	CategoryDeposit Category = "deposit"
)

// Categories lists all product categories in the order they are
// enumerated and exported.
var Categories = []Category{
	CategoryAccount,
	CategoryDeposit,
	CategoryUzcard,
	CategoryHumo,
	CategoryVisa,
	CategoryWallet,
}

// IsCard reports whether the category is a card network. Card histories
// use cardId/dateFrom/dateTo query parameters and report amounts as
// locale-formatted decimal strings; the rest use id (or absId) with
// startDate/endDate and minor-unit integers.
func (c Category) IsCard() bool {
	switch c {
	case CategoryUzcard, CategoryHumo, CategoryVisa:
		return true
	}
	return false
}

// Product is one enumerated bank product. ID is the identifier the
// history endpoint expects: the "id" attribute for most categories,
// "absId" for deposits.
type Product struct {
	ID       string
	Category Category
	Raw      Row
}
