package catalog

import (
	"fmt"
	"regexp"
)

// placeholderRe matches {{Product}} references in submitted SQL. Queries may
// name data products instead of physical tables; each backend substitutes
// the physical name it stores the product under before executing.
var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// ExpandProductRefs rewrites every {{Product}} placeholder using the
// backend's physical naming. SQL without placeholders passes through
// unchanged.
func ExpandProductRefs(query string, physical func(product string) string) string {
	return placeholderRe.ReplaceAllStringFunc(query, func(ref string) string {
		name := placeholderRe.FindStringSubmatch(ref)[1]
		return physical(name)
	})
}

// RemoteTableName derives the physical table a product occupies in the
// remote columnar store, for example Invoice under namespace NS_DP, source
// sap_bdc, schema version V1 lives in NS_DP_sap_bdc_Invoice_V1.
func RemoteTableName(namespace, source, product, version string) string {
	return fmt.Sprintf("%s_%s_%s_%s", namespace, source, product, version)
}
