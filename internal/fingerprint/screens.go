package fingerprint

// BuiltinScreens identifies the well-known TSO and KICKS screens by name.
// These cover the stock Hercules/MVS images; site-specific screens belong in
// flow declarations instead.
var BuiltinScreens = map[string]Rule{
	"TSO_LOGON": {
		Name: "TSO_LOGON",
		Match: &RuleSet{
			Any: []Rule{
				{AsciiContains: "TSO/E LOGON"},
				{AsciiContains: "ENTER USERID"},
				{AsciiContains: "Logon ===>"},
				{AsciiRegex: `TK[345].*Logon`},
			},
			Rows: 24,
			Cols: 80,
		},
		Stability: &Stability{MinChars: 200},
	},
	"TSO_PASSWORD": {
		Name: "TSO_PASSWORD",
		Match: &RuleSet{
			Any: []Rule{
				{AsciiContains: "ENTER PASSWORD"},
				{AsciiContains: "ENTER CURRENT PASSWORD"},
				{AsciiRegex: `PASSWORD.*FOR.*HERC`},
			},
		},
	},
	"TSO_READY": {
		Name: "TSO_READY",
		Match: &RuleSet{
			All: []Rule{
				{AsciiContains: "READY"},
				{AsciiRegex: `(?m)^\s*READY\s*$`},
			},
		},
	},
	"KICKS_MENU": {
		Name: "KICKS_MENU",
		Match: &RuleSet{
			Any: []Rule{
				{AsciiContains: "KICKS"},
				{AsciiContains: "KSGM"},
				{AsciiContains: "K I C K S"},
			},
		},
	},
	"ERROR_SCREEN": {
		Name: "ERROR_SCREEN",
		Match: &RuleSet{
			Any: []Rule{
				{AsciiContains: "ABEND"},
				{AsciiContains: "ERROR"},
				{AsciiContains: "REJECTED"},
				{AsciiRegex: `IKJ\d{5}[EI]`},
			},
		},
	},
}
