package notify

import (
	"sync"

	"github.com/dop251/goja"

	"github.com/coachpo/statusdeck/errs"
)

// Rule is a user-supplied JavaScript filter over alerts. The script must
// define `function allow(alert)`; a truthy return lets the alert through.
// Rules run on one runtime guarded by a mutex, so Allow is safe to call
// from concurrent update handlers.
type Rule struct {
	mu    sync.Mutex
	vm    *goja.Runtime
	allow goja.Callable
}

// NewRule compiles the rule source and resolves its allow function.
func NewRule(source string) (*Rule, error) {
	vm := goja.New()
	if _, err := vm.RunScript("alert-rule.js", source); err != nil {
		return nil, errs.New("notify/rule", errs.CodeInvalid,
			errs.WithMessage("alert rule failed to compile"), errs.WithCause(err))
	}
	fn, ok := goja.AssertFunction(vm.Get("allow"))
	if !ok {
		return nil, errs.New("notify/rule", errs.CodeInvalid,
			errs.WithMessage("alert rule must define function allow(alert)"))
	}
	return &Rule{mu: sync.Mutex{}, vm: vm, allow: fn}, nil
}

// Allow evaluates the rule against one alert.
func (r *Rule) Allow(alert Alert) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	arg := r.vm.ToValue(map[string]any{
		"id":            alert.ID,
		"provider":      string(alert.Provider),
		"projectId":     alert.ProjectID,
		"projectName":   alert.ProjectName,
		"environment":   string(alert.Environment),
		"deploymentId":  alert.DeploymentID,
		"url":           alert.URL,
		"commitMessage": alert.CommitMessage,
		"author":        alert.Author,
		"detectedAt":    alert.DetectedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
	result, err := r.allow(goja.Undefined(), arg)
	if err != nil {
		return false, errs.New("notify/rule", errs.CodeInvalid,
			errs.WithMessage("alert rule evaluation failed"), errs.WithCause(err))
	}
	return result.ToBoolean(), nil
}
