package semantic

import "datalens/application/ports"

// DefaultGlossary maps the business vocabulary of the built-in catalog onto
// its semantic tags and fields. Deployments with their own catalog swap in a
// glossary of their own through NewStaticResolver.
func DefaultGlossary() map[string]ports.TermResolution {
	return map[string]ports.TermResolution{
		"revenue": {
			SemanticTag: "amount",
			Fields:      []string{"Invoice.amount", "InvoiceItem.net_value"},
		},
		"customer": {
			SemanticTag: "business_partner",
			Fields:      []string{"Customer.id", "Invoice.customer_id"},
		},
		"material": {
			SemanticTag: "material",
			Fields:      []string{"InvoiceItem.material"},
		},
		"quantity": {
			SemanticTag: "quantity",
			Fields:      []string{"InvoiceItem.quantity"},
		},
		"currency": {
			SemanticTag: "currency",
			Fields:      []string{"Invoice.currency_code"},
		},
		"invoice status": {
			SemanticTag: "lifecycle_status",
			Fields:      []string{"Invoice.status"},
		},
		"country": {
			SemanticTag: "country",
			Fields:      []string{"Customer.country"},
		},
	}
}
