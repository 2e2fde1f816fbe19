package adapters

// Wire types advertised by the service description. Scalar params on the RPC
// surface are parsed according to these, so a string field keeps digit-only
// values as strings.
const (
	FieldString = "string"
	FieldInt    = "int"
	FieldBool   = "bool"
	FieldArray  = "array"
)

// fieldTypes assigns every canonical field its wire type. Fields absent here
// default to string in the description and to heuristic parsing on input.
var fieldTypes = map[string]string{
	"orderId":      FieldString,
	"clientId":     FieldString,
	"packageId":    FieldString,
	"routeId":      FieldString,
	"referenceId":  FieldString,
	"destination":  FieldString,
	"zone":         FieldString,
	"vehicle":      FieldString,
	"eta":          FieldString,
	"name":         FieldString,
	"sku":          FieldString,
	"reservedAt":   FieldString,
	"registeredAt": FieldString,
	"routeStatus":  FieldString,
	"legacyStatus": FieldString,
	"items":        FieldArray,
	"quantity":     FieldInt,
	"blacklisted":  FieldBool,
	"released":     FieldBool,
	"cancelled":    FieldBool,
}

func fieldType(name string) string {
	if t, ok := fieldTypes[name]; ok {
		return t
	}
	return ""
}

// operationSchema lists an operation's input and output fields by their
// canonical names. The RPC service description renders these through the
// shared field table so callers see the surface spelling.
type operationSchema struct {
	Input  []string
	Output []string
}

var packageFields = []string{"packageId", "orderId", "items", "destination", "zone", "reservedAt"}
var routeFields = []string{"routeId", "orderId", "destination", "zone", "vehicle", "eta", "routeStatus"}
var registrationFields = []string{"referenceId", "orderId", "clientId", "legacyStatus", "registeredAt"}

// operationSchemas is keyed by envelope type and mirrors the worker handler
// payloads one to one.
var operationSchemas = map[string]operationSchema{
	"CREATE_PACKAGE":     {Input: []string{"orderId", "items", "destination"}, Output: packageFields},
	"GET_PACKAGE_STATUS": {Input: []string{"packageId"}, Output: packageFields},
	"RELEASE_PACKAGE":    {Input: []string{"packageId"}, Output: []string{"packageId", "released"}},
	"OPTIMIZE_ROUTE":     {Input: []string{"orderId", "destination"}, Output: routeFields},
	"GET_ROUTE":          {Input: []string{"routeId"}, Output: routeFields},
	"UPDATE_ROUTE":       {Input: []string{"routeId", "destination"}, Output: routeFields},
	"CANCEL_ROUTE":       {Input: []string{"routeId"}, Output: []string{"routeId", "cancelled"}},
	"SUBMIT_ORDER":       {Input: []string{"orderId", "clientId"}, Output: registrationFields},
	"GET_ORDER_STATUS":   {Input: []string{"referenceId"}, Output: registrationFields},
	"CANCEL_ORDER":       {Input: []string{"referenceId"}, Output: []string{"referenceId", "cancelled"}},
	"VERIFY_CLIENT":      {Input: []string{"clientId"}, Output: []string{"clientId", "name", "blacklisted"}},
}
