package dispatch

import (
	"net/url"

	json "github.com/goccy/go-json"
	"github.com/gorilla/schema"
)

// This file is a small, hand-picked sample of request constructors, not a
// full resource catalog; it shows how a request type binds its route,
// body, and response parser together.

// queryEncoder builds URL query strings from `url`-tagged structs.
var queryEncoder = schema.NewEncoder()

func init() {
	queryEncoder.SetAliasTag("url")
}

// Channel is the minimal shape GetChannel needs to hand back to a caller.
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GetChannel builds the Request for Discord's "Get Channel" endpoint.
func GetChannel(channelID string) Request {
	return Request{
		Route: Route{
			Method:   "GET",
			Template: "/channels/{channel_id}",
			Params:   map[string]string{MajorParamChannelID: channelID},
		},
		Parser: func(body []byte) (any, error) {
			var ch Channel
			if err := json.Unmarshal(body, &ch); err != nil {
				return nil, err
			}

			return &ch, nil
		},
	}
}

// Message is the minimal shape CreateMessage needs to hand back to a caller.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
}

// CreateMessageParams is the JSON body for Discord's "Create Message" endpoint.
type CreateMessageParams struct {
	Content string `json:"content"`
}

// CreateMessage builds the Request for Discord's "Create Message" endpoint.
func CreateMessage(channelID string, params CreateMessageParams, files ...File) (Request, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return Request{}, err
	}

	return Request{
		Route: Route{
			Method:   "POST",
			Template: "/channels/{channel_id}/messages",
			Params:   map[string]string{MajorParamChannelID: channelID},
		},
		Body:  body,
		Files: files,
		Parser: func(body []byte) (any, error) {
			var msg Message
			if err := json.Unmarshal(body, &msg); err != nil {
				return nil, err
			}

			return &msg, nil
		},
	}, nil
}

// GetChannelMessagesParams is the optional query string for Discord's "Get
// Channel Messages" endpoint.
type GetChannelMessagesParams struct {
	Around string `url:"around,omitempty"`
	Before string `url:"before,omitempty"`
	After  string `url:"after,omitempty"`
	Limit  int    `url:"limit,omitempty"`
}

// GetChannelMessages builds the Request for Discord's "Get Channel Messages"
// endpoint, demonstrating a GET route with optional query parameters encoded
// via gorilla/schema.
func GetChannelMessages(channelID string, params GetChannelMessagesParams) (Request, error) {
	values := url.Values{}
	if err := queryEncoder.Encode(&params, values); err != nil {
		return Request{}, err
	}

	return Request{
		Route: Route{
			Method:   "GET",
			Template: "/channels/{channel_id}/messages",
			Params:   map[string]string{MajorParamChannelID: channelID},
			Query:    values.Encode(),
		},
		Parser: func(body []byte) (any, error) {
			var msgs []Message
			if err := json.Unmarshal(body, &msgs); err != nil {
				return nil, err
			}

			return msgs, nil
		},
	}, nil
}

// CreateInteractionResponse builds the Request for Discord's interaction
// callback endpoint, one of the routes exempt from the global rate limit.
func CreateInteractionResponse(interactionID, interactionToken string, body []byte) Request {
	return Request{
		Route: Route{
			Method:       "POST",
			Template:     "/interactions/{interaction_id}/{interaction_token}/callback",
			Params:       map[string]string{"interaction_id": interactionID, "interaction_token": interactionToken},
			ExemptGlobal: true,
		},
		Body: body,
	}
}
