package adapters

import (
	"strings"
	"unicode"
)

// fieldNames is the single translation table between canonical camelCase
// payload fields and the PascalCase names the RPC surface exposes. Both
// directions read from this one table so a rename cannot drift apart.
var fieldNames = map[string]string{
	"orderId":      "OrderId",
	"clientId":     "ClientId",
	"packageId":    "PackageId",
	"routeId":      "RouteId",
	"referenceId":  "ReferenceId",
	"destination":  "Destination",
	"zone":         "Zone",
	"vehicle":      "Vehicle",
	"eta":          "Eta",
	"status":       "Status",
	"items":        "Items",
	"sku":          "Sku",
	"quantity":     "Quantity",
	"result":       "Result",
	"verified":     "Verified",
	"name":         "Name",
	"createdAt":    "CreatedAt",
	"updatedAt":    "UpdatedAt",
	"reservedAt":   "ReservedAt",
	"registeredAt": "RegisteredAt",
	"routeStatus":  "RouteStatus",
	"legacyStatus": "LegacyStatus",
	"blacklisted":  "Blacklisted",
	"released":     "Released",
	"cancelled":    "Cancelled",
}

var reverseFieldNames = func() map[string]string {
	m := make(map[string]string, len(fieldNames))
	for canonical, rpc := range fieldNames {
		m[rpc] = canonical
	}
	return m
}()

// toRPCField maps a canonical field name to its RPC spelling. Fields absent
// from the table fall back to uppercasing the first rune.
func toRPCField(name string) string {
	if mapped, ok := fieldNames[name]; ok {
		return mapped
	}
	return capitalize(name)
}

// toCanonicalField maps an RPC field name back to its canonical spelling.
func toCanonicalField(name string) string {
	if mapped, ok := reverseFieldNames[name]; ok {
		return mapped
	}
	return decapitalize(name)
}

// methodForType converts an envelope type such as CREATE_PACKAGE into the RPC
// method name CreatePackage.
func methodForType(envType string) string {
	parts := strings.Split(strings.ToLower(envType), "_")
	for i, p := range parts {
		parts[i] = capitalize(p)
	}
	return strings.Join(parts, "")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func decapitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}
