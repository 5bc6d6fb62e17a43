package dispatch

import (
	"regexp"
	"strings"
)

// RouteKey is the client-side provisional identity of a route: its HTTP
// method plus its path template with major parameters substituted in and
// every other path parameter collapsed to a shared placeholder. Discord
// scopes rate-limit buckets by major parameter only, so two requests that
// differ exclusively in a non-major id (e.g. message_id) share a RouteKey.
type RouteKey string

// Major parameter names. Discord documents that rate-limit buckets are
// scoped only by these three; this is the single place that set is defined.
const (
	MajorParamGuildID      = "guild_id"
	MajorParamChannelID    = "channel_id"
	MajorParamWebhookID    = "webhook_id"
	MajorParamWebhookToken = "webhook_token"
)

var majorParams = map[string]bool{
	MajorParamGuildID:   true,
	MajorParamChannelID: true,
	MajorParamWebhookID: true,
}

// placeholderIDToken replaces every non-major path parameter.
const placeholderIDToken = "{id}"

var templateParam = regexp.MustCompile(`\{([a-z_]+)\}`)

// Route is the Request Catalog's description of a request's HTTP shape: its
// method, its URI template with named placeholders (e.g.
// "/channels/{channel_id}/messages/{message_id}"), and the concrete value
// bound to each placeholder for this particular Request.
type Route struct {
	Method   string
	Template string
	Params   map[string]string

	// Query is an already-encoded URL query string (no leading '?'), kept
	// separate from Template so that pagination/filter parameters never
	// fragment a bucket's RouteKey.
	Query string

	// ExemptGlobal marks routes Discord excludes from the bot's global rate
	// limit, e.g. interaction callbacks.
	ExemptGlobal bool
}

// Key computes the RouteKey for a Route. It is pure and deterministic: the
// same Route always yields the same RouteKey.
func (r Route) Key() RouteKey {
	keyed := templateParam.ReplaceAllStringFunc(r.Template, func(match string) string {
		name := match[1 : len(match)-1]

		if !majorParams[name] {
			return placeholderIDToken
		}

		value := r.Params[name]
		if name == MajorParamWebhookID {
			if token, ok := r.Params[MajorParamWebhookToken]; ok && token != "" {
				return value + ":" + token
			}
		}

		return value
	})

	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte(' ')
	b.WriteString(keyed)

	return RouteKey(b.String())
}

// URI resolves the Route's template against its Params, producing the
// concrete request URI. Unlike Key, every placeholder (major or not) is
// substituted with its real value; URI is what is actually sent over the wire.
func (r Route) URI(baseURL string) string {
	resolved := templateParam.ReplaceAllStringFunc(r.Template, func(match string) string {
		name := match[1 : len(match)-1]

		return r.Params[name]
	})

	uri := strings.TrimRight(baseURL, "/") + resolved
	if r.Query != "" {
		uri += "?" + r.Query
	}

	return uri
}
