package authz

import (
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titler = cases.Title(language.English)

// actionVerbs maps each action to the phrase used in deny messages.
var actionVerbs = map[Action]string{
	ActionView:   "view records in",
	ActionCreate: "create records in",
	ActionEdit:   "edit records in",
	ActionDelete: "delete records from",
	ActionExport: "export records from",
}

// reasonMessages is the static DenyReason -> message table. Reasons
// that do not depend on the requested pair have fixed text; the two
// grant-level reasons interpolate module and action.
var reasonMessages = map[DenyReason]string{
	DenyNoAccessControl:       "No access has been assigned to your account. Contact an administrator.",
	DenyAccessControlInactive: "Your access is not currently active. It may have expired or not started yet.",
	DenyNoProfile:             "Your access profile could not be found. Contact an administrator.",
	DenyProfileInactive:       "Your access profile has been deactivated. Contact an administrator.",
}

// ModuleLabel renders a module id for display.
func ModuleLabel(m Module) string {
	if m == ModuleKPIs {
		return "KPIs"
	}
	return titler.String(string(m))
}

// DenyMessage derives the human-readable denial text shown by UI
// surfaces and carried in guard rejections.
func DenyMessage(reason DenyReason, module Module, action Action) string {
	if msg, ok := reasonMessages[reason]; ok {
		return msg
	}
	verb, ok := actionVerbs[action]
	if !ok {
		verb = "access"
	}
	switch reason {
	case DenyModuleNotGranted:
		return fmt.Sprintf("Your profile does not grant access to %s.", ModuleLabel(module))
	case DenyActionNotGranted:
		return fmt.Sprintf("You do not have permission to %s %s.", verb, ModuleLabel(module))
	}
	return "Access denied."
}
