package callgraph

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/dusk-indust/dotnav/internal/symbols"
)

var minimalAPIVerbs = map[string]string{
	"MapGet":    "GET",
	"MapPost":   "POST",
	"MapPut":    "PUT",
	"MapDelete": "DELETE",
	"MapPatch":  "PATCH",
}

// controllerEndpoint returns the endpoint of a controller action, or nil
// when caller does not sit on a controller-shaped type.
func (e *Engine) controllerEndpoint(ctx context.Context, caller *symbols.Symbol) *EndpointInfo {
	conv := e.opts.Conventions
	typ := baseName(caller.ContainingType)
	if conv.ControllerSuffix == "" || !strings.HasSuffix(typ, conv.ControllerSuffix) {
		return nil
	}
	if !slices.ContainsFunc(caller.ContainingTypeBases, func(b string) bool {
		return slices.Contains(conv.ControllerBases, baseName(b))
	}) {
		return nil
	}

	attrs, err := e.provider.AttributesOf(ctx, caller)
	if err != nil {
		e.logger.Warn("read attributes", slog.String("method", caller.QualifiedName()), slog.Any("error", err))
	}
	controller := strings.TrimSuffix(typ, conv.ControllerSuffix)
	return &EndpointInfo{
		Route:          "/" + strings.ToLower(controller) + "/" + strings.ToLower(caller.Name),
		HTTPMethod:     httpVerb(attrs, conv.HTTPAttributes),
		IsController:   true,
		ControllerName: controller,
		ActionName:     caller.Name,
	}
}

// httpVerb returns the single verb named by attrs, or GET when there is
// none or more than one.
func httpVerb(attrs []string, known map[string]string) string {
	verb := ""
	for _, a := range attrs {
		v, ok := known[a]
		if !ok {
			continue
		}
		if verb != "" && verb != v {
			return "GET"
		}
		verb = v
	}
	if verb == "" {
		return "GET"
	}
	return verb
}

// minimalAPIEndpoint recognizes a reference passed to app.MapGet and its
// siblings. The route is the literal template.
func minimalAPIEndpoint(calls []symbols.CallContext) (*EndpointInfo, string) {
	for _, c := range calls {
		verb, ok := minimalAPIVerbs[c.Name]
		if !ok {
			continue
		}
		return &EndpointInfo{
			Route:        c.FirstStringArg,
			HTTPMethod:   verb,
			IsMinimalAPI: true,
		}, c.Name
	}
	return nil, ""
}
