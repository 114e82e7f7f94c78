package wasapi

import (
	"fmt"

	ole "github.com/go-ole/go-ole"
)

// PropertyKey identifies one property in a property store. Its layout matches
// PROPERTYKEY.
type PropertyKey struct {
	FormatID ole.GUID
	PID      uint32
}

func (k PropertyKey) String() string {
	return fmt.Sprintf("%s %d", k.FormatID.String(), k.PID)
}

// Well-known device property keys.
var (
	PKeyDeviceInterfaceFriendlyName = PropertyKey{*ole.NewGUID("{026E516E-B814-414B-83CD-856D6FEF4822}"), 2}
	PKeyDeviceDesc                  = PropertyKey{*ole.NewGUID("{A45C254E-DF1C-4EFD-8020-67D146A850E0}"), 2}
	PKeyDeviceFriendlyName          = PropertyKey{*ole.NewGUID("{A45C254E-DF1C-4EFD-8020-67D146A850E0}"), 14}
)

// Variant types interpreted by PropValue.
const (
	VTEmpty  uint16 = 0
	VTLPWStr uint16 = 31
)

// PropValue is a copied property variant. Only wide strings are interpreted.
type PropValue struct {
	VT  uint16
	str string
}

// StringValue builds a wide-string PropValue.
func StringValue(s string) PropValue {
	return PropValue{VT: VTLPWStr, str: s}
}

// AsString returns the wide string, if the value holds one.
func (v PropValue) AsString() (string, bool) {
	if v.VT != VTLPWStr {
		return "", false
	}
	return v.str, true
}

func (v PropValue) String() string {
	if s, ok := v.AsString(); ok {
		return fmt.Sprintf("WideString(%q)", s)
	}
	return fmt.Sprintf("Unknown(%d)", v.VT)
}
