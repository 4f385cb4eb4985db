package classify

import (
	"fmt"
	"regexp"
)

// Diagnostic is the classification of the first compiler diagnostic found
// in raw tsc output.
type Diagnostic struct {
	Type      FailureType
	Code      string
	Message   string
	Signature string
}

var tscDiagRe = regexp.MustCompile(`error\s+TS(\d{4}):\s*(.+)`)

var (
	tsSyntaxCodes = map[string]bool{"1002": true, "1005": true, "1109": true, "1128": true, "1136": true, "1160": true}
	tsTypeCodes   = map[string]bool{"2322": true, "2345": true, "2362": true, "2363": true, "2365": true, "2367": true, "7006": true}
	tsNameCodes   = map[string]bool{"2304": true, "2307": true, "2552": true}
)

// ClassifyTSC classifies the first "error TSxxxx: message" line in output.
// Output without any diagnostic yields TS0000 / ts_compile_error.
func ClassifyTSC(output string) Diagnostic {
	code := "0000"
	msg := "unknown TypeScript compile error"
	if m := tscDiagRe.FindStringSubmatch(output); m != nil {
		code = m[1]
		msg = m[2]
	}
	msg = NormalizeMessage(msg)

	ft := TSCompileError
	switch {
	case tsSyntaxCodes[code]:
		ft = TSSyntaxError
	case tsTypeCodes[code]:
		ft = TSTypeError
	case tsNameCodes[code]:
		ft = TSNameError
	}
	return Diagnostic{
		Type:      ft,
		Code:      "TS" + code,
		Message:   msg,
		Signature: fmt.Sprintf("TS%s:%s", code, Short(msg, MaxSignatureMessage)),
	}
}
