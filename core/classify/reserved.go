package classify

// ReservedWords is every keyword/operator spelled as a bare word in the
// grammar (spec §4.2 rule 1).
var ReservedWords = map[string]bool{
	"and": true, "or": true, "not": true, "if": true, "else": true,
	"True": true, "False": true, "None": true,
	"state": true,
}

// FunctionLibrary is the closed set of callable names (spec §4.7), also
// reserved for identifier classification purposes.
var FunctionLibrary = map[string]bool{
	// arithmetic / math
	"abs": true, "round": true, "min": true, "max": true, "sum": true,
	"len": true, "int": true, "float": true, "sin": true, "cos": true,
	"sqrt": true, "log": true, "exp": true, "pow": true,
	// collection aggregates
	"mean": true, "std": true, "var": true, "count": true, "avg": true,
	// temporal
	"now": true, "today": true, "yesterday": true, "tomorrow": true,
	"utc_today": true, "utc_yesterday": true, "date": true, "datetime": true,
	"minutes": true, "hours": true, "days": true, "seconds": true, "weeks": true,
	"timedelta": true,
	"minutes_between": true, "hours_between": true, "days_between": true,
	"format_friendly": true,
	// metadata
	"metadata": true,
}

// IsReserved reports whether name (a single, undotted identifier) is a
// reserved word or function name.
func IsReserved(name string) bool {
	return ReservedWords[name] || FunctionLibrary[name]
}
