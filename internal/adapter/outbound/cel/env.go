package cel

import (
	"net"
	"path/filepath"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/google/cel-go/ext"

	"github.com/Sentinel-Gate/appsec-gate/internal/domain/rules"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/valuetree"
)

// NewRuleEnvironment creates the CEL environment rule conditions compile in.
// It declares:
//   - data: the serialized request or response map, keyed by address
//   - phase: "request" or "response"
//   - functions: glob, ip_in_cidr, field, strings_of, any_contains
func NewRuleEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("phase", cel.StringType),

		// glob: shell pattern match.
		// Usage: glob("/admin/*", data["server.request.uri.raw"])
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p := pattern.Value().(string)
					n := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),

		// ip_in_cidr: checks if an IP is within a CIDR range. A null IP never matches.
		// Usage: ip_in_cidr(data["http.client_ip"], "10.0.0.0/8")
		cel.Function("ip_in_cidr",
			cel.Overload("ip_in_cidr_dyn_string",
				[]*cel.Type{cel.DynType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(ipVal, cidrVal ref.Val) ref.Val {
					ipStr, ok := ipVal.Value().(string)
					if !ok {
						return types.Bool(false)
					}
					ip := net.ParseIP(ipStr)
					if ip == nil {
						return types.Bool(false)
					}

					_, network, err := net.ParseCIDR(cidrVal.Value().(string))
					if err != nil {
						return types.Bool(false)
					}

					return types.Bool(network.Contains(ip))
				}),
			),
		),

		// field: look up an address, null when absent.
		// Usage: field(data, "server.request.cookies")
		cel.Function("field",
			cel.Overload("field_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(func(mapVal, keyVal ref.Val) ref.Val {
					m, ok := mapVal.(traits.Mapper)
					if !ok {
						return types.NullValue
					}
					if v, found := m.Find(keyVal); found {
						return v
					}
					return types.NullValue
				}),
			),
		),

		// strings_of: every string nested anywhere in a value, map keys included.
		// Usage: strings_of(data["server.request.query"]).exists(s, s.contains("<script"))
		cel.Function("strings_of",
			cel.Overload("strings_of_dyn",
				[]*cel.Type{cel.DynType},
				cel.ListType(cel.StringType),
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					var out []string
					collectStrings(v, &out)
					return types.NewStringList(types.DefaultTypeAdapter, out)
				}),
			),
		),

		// any_contains: check if any nested string or map key contains a substring.
		// Usage: any_contains(data["server.request.headers.no_cookies"], "sqlmap")
		cel.Function("any_contains",
			cel.Overload("any_contains_dyn_string",
				[]*cel.Type{cel.DynType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(v, substrVal ref.Val) ref.Val {
					substr := substrVal.Value().(string)
					var out []string
					collectStrings(v, &out)
					for _, s := range out {
						if strings.Contains(s, substr) {
							return types.Bool(true)
						}
					}
					return types.Bool(false)
				}),
			),
		),
	)
}

// collectStrings appends the strings held by v, descending into maps and lists.
// Map keys are collected before their values: query and cookie names are
// attacker controlled too.
func collectStrings(v ref.Val, out *[]string) {
	switch x := v.(type) {
	case types.String:
		*out = append(*out, string(x))
	case traits.Mapper:
		it := x.Iterator()
		for it.HasNext() == types.True {
			k := it.Next()
			collectStrings(k, out)
			collectStrings(x.Get(k), out)
		}
	case traits.Lister:
		it := x.Iterator()
		for it.HasNext() == types.True {
			collectStrings(it.Next(), out)
		}
	}
}

// BuildActivation creates the CEL activation for one phase. A data tree that
// is not a map yields an empty data map.
func BuildActivation(phase rules.Phase, data *valuetree.Value) map[string]any {
	m := map[string]any{}
	if data != nil && data.Kind() == valuetree.KindMap {
		m = data.Interface().(map[string]any)
	}
	return map[string]any{
		"data":  m,
		"phase": string(phase),
	}
}
