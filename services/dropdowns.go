package services

// UnitOptions returns the list of units of measure offered for BOQ items.
var UnitOptions = []string{
	"м2",
	"м3",
	"м",
	"п.м",
	"шт",
	"компл",
	"т",
	"кг",
	"л",
	"маш.-ч",
	"чел.-ч",
}

// CurrencyOptions returns the currencies an item can be priced in.
var CurrencyOptions = []Currency{
	CurrencyRUB,
	CurrencyUSD,
	CurrencyEUR,
	CurrencyCNY,
}

var DeliveryPolicyOptions = []DeliveryPolicy{
	DeliveryIncluded,
	DeliveryNotIncluded,
	DeliveryFixedAmount,
}

var ItemKindOptions = []ItemKind{
	KindWork,
	KindSubWork,
	KindMaterial,
	KindSubMaterial,
}
