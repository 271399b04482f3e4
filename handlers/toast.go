package handlers

import (
	"encoding/json"

	"github.com/pocketbase/pocketbase/core"
)

// SetToast sets the HX-Trigger response header so an HTMX front end shows a
// toast notification. If an HX-Trigger header already exists, the toast
// payload is merged into the existing JSON object.
func SetToast(e *core.RequestEvent, toastType string, message string) {
	toast := map[string]string{
		"message": message,
		"type":    toastType,
	}

	merged := map[string]any{}
	if existing := e.Response.Header().Get("HX-Trigger"); existing != "" {
		// A non-JSON trigger is an event name; keep it as a bare event.
		if err := json.Unmarshal([]byte(existing), &merged); err != nil {
			merged = map[string]any{existing: nil}
		}
	}
	merged["showToast"] = toast

	data, err := json.Marshal(merged)
	if err != nil {
		return
	}
	e.Response.Header().Set("HX-Trigger", string(data))
}

// conflictToast tells the operator a transfer is waiting for a strategy.
func conflictToast(e *core.RequestEvent, materialName, workName string) {
	msg := "Материал уже привязан к работе"
	if materialName != "" && workName != "" {
		msg = "«" + materialName + "» уже есть в работе «" + workName + "»: выберите суммирование или замену"
	}
	SetToast(e, "warning", msg)
}
