package middleware

import (
	"net/http"

	goHook "github.com/MrEthical07/goHook"
	"github.com/MrEthical07/goHook/hooks"
)

// ActionParam is the query or form field naming the action to run.
const ActionParam = "action"

// ActionRouter returns a handler that dispatches the action channel
// prefix+action, where action comes from the "action" query or form field.
// Callbacks receive (w, r) as arguments; subscribe them with
// hooks.WithAcceptedArgs(2) to get the request too.
//
// Requests naming no action, or an action without subscribers, get 400.
func ActionRouter(engine *goHook.Engine, prefix string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}

		action := r.URL.Query().Get(ActionParam)
		if action == "" && r.Method != http.MethodGet && r.Method != http.MethodHead {
			action = r.PostFormValue(ActionParam)
		}
		if action == "" {
			http.Error(w, "missing action", http.StatusBadRequest)
			return
		}

		channel := prefix + action
		if kind, ok := engine.Hooks().Kind(channel); !ok || kind != hooks.KindAction || !engine.Hooks().Has(channel) {
			http.Error(w, "unknown action", http.StatusBadRequest)
			return
		}

		if err := engine.Do(r.Context(), channel, w, r); err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	})
}
