package dlt645

// Write-command authentication trailer. Calibration meters in the production
// line all ship with the factory credentials, so these are fixed.
var (
	writePassword = [4]byte{0x00, 0x00, 0x00, 0x00}
	writeOperator = [4]byte{0x01, 0x00, 0x00, 0x00}
)

// AuthTrailerLen is the number of bytes AppendAuth adds: password, operator
// and one pad byte.
const AuthTrailerLen = 9

// AppendAuth returns a copy of payload with the write-command trailer
// appended: 4-byte password, 4-byte operator code, one pad byte. The values
// here are pre-offset; on the wire they show up as 33333333, 34333333, 33.
// Every calibration write frame carries this trailer.
func AppendAuth(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+AuthTrailerLen)
	out = append(out, payload...)
	out = append(out, writePassword[:]...)
	out = append(out, writeOperator[:]...)
	out = append(out, 0x00)
	return out
}

// StripAuth removes the trailer appended by AppendAuth. ok is false when the
// payload is too short to carry one.
func StripAuth(payload []byte) (body []byte, ok bool) {
	if len(payload) < AuthTrailerLen {
		return payload, false
	}
	return payload[:len(payload)-AuthTrailerLen], true
}
