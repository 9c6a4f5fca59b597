package nodeconfig

import "reflect"

// Reflect.Type literals for github.com/golobby/cast.FromType, the same
// pattern internal/mqttsn/wiretext.go uses for float32 coercion.
var (
	panIDType   = reflect.TypeOf(uint16(0))
	channelType = reflect.TypeOf(uint8(0))
)
