package domain

import (
	"encoding/json"
	"fmt"
)

// responseValueWire is the JSON-on-the-wire shape for the ResponseValue
// tagged union, used both by the Response Store's JSONB columns and by the
// HTTP request/response DTOs.
type responseValueWire struct {
	Kind string            `json:"kind"`
	Str  string            `json:"str,omitempty"`
	Num  float64           `json:"num,omitempty"`
	Bool bool              `json:"bool,omitempty"`
	List []ResponseValue   `json:"list,omitempty"`
	Map  map[string]ResponseValue `json:"map,omitempty"`
}

var kindNames = map[ResponseKind]string{
	KindNull: "null",
	KindStr:  "str",
	KindNum:  "num",
	KindBool: "bool",
	KindList: "list",
	KindMap:  "map",
}

var namesToKind = map[string]ResponseKind{
	"null": KindNull,
	"str":  KindStr,
	"num":  KindNum,
	"bool": KindBool,
	"list": KindList,
	"map":  KindMap,
}

// MarshalJSON encodes the ResponseValue tagged union with an explicit kind
// discriminator so round-tripping never depends on Go zero values.
func (v ResponseValue) MarshalJSON() ([]byte, error) {
	w := responseValueWire{Kind: kindNames[v.Kind]}
	switch v.Kind {
	case KindStr:
		w.Str = v.Str
	case KindNum:
		w.Num = v.Num
	case KindBool:
		w.Bool = v.Bool
	case KindList:
		w.List = v.List
	case KindMap:
		w.Map = v.Map
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the ResponseValue tagged union.
func (v *ResponseValue) UnmarshalJSON(data []byte) error {
	var w responseValueWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("unmarshal response value: %w", err)
	}
	kind, ok := namesToKind[w.Kind]
	if !ok {
		kind = KindNull
	}
	*v = ResponseValue{Kind: kind, Str: w.Str, Num: w.Num, Bool: w.Bool, List: w.List, Map: w.Map}
	return nil
}
