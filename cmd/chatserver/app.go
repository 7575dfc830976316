package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/ricsam/richie-rpc-sub000/config"
	"github.com/ricsam/richie-rpc-sub000/contract"
	"github.com/ricsam/richie-rpc-sub000/metric"
	"github.com/ricsam/richie-rpc-sub000/router"
	"github.com/ricsam/richie-rpc-sub000/schema"
	"github.com/ricsam/richie-rpc-sub000/socket"
)

// app wires the chat contract to its handlers and owns the two routers.
type app struct {
	store      *memoryStore
	httpRouter *router.Router
	sockRouter *socket.Router
	logger     *slog.Logger
}

func newApp(cfg *config.Config, logger *slog.Logger, metrics *metric.Registry, broker socket.Broker) *app {
	a := &app{
		store:  newMemoryStore(),
		logger: logger,
	}

	httpOpts := []router.Option{
		router.WithLogger(logger),
		router.WithMetrics(metrics),
	}
	if cfg.Server.MaxBodyBytes > 0 {
		httpOpts = append(httpOpts, router.WithMaxBodyBytes(cfg.Server.MaxBodyBytes))
	}
	a.httpRouter = router.New(chatContract(), httpOpts...)

	sockOpts := []socket.Option{
		socket.WithLogger(logger),
		socket.WithMetrics(metrics),
		socket.WithBroker(broker),
		socket.WithCheckOrigin(func(r *http.Request) bool {
			return cfg.Socket.OriginAllowed(r.Header.Get("Origin"))
		}),
	}
	if cfg.Socket.MessagesPerSecond > 0 {
		sockOpts = append(sockOpts, socket.WithMessageRateLimit(cfg.Socket.MessagesPerSecond, cfg.Socket.MessageBurst))
	}
	if cfg.Socket.ReadLimitBytes > 0 {
		sockOpts = append(sockOpts, socket.WithReadLimit(cfg.Socket.ReadLimitBytes))
	}
	a.sockRouter = socket.New(chatSocketContract(), sockOpts...)

	a.register()
	return a
}

// handler splits traffic between the two routers: upgrade requests go to
// the socket router, everything else to the HTTP router.
func (a *app) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			a.sockRouter.ServeHTTP(w, r)
			return
		}
		a.httpRouter.ServeHTTP(w, r)
	})
}

func (a *app) close() error {
	return a.sockRouter.Close()
}

func (a *app) register() {
	must(a.httpRouter.Standard("createMessage", a.createMessage))
	must(a.httpRouter.Standard("listMessages", a.listMessages))
	must(a.httpRouter.Standard("getMessage", a.getMessage))
	must(a.httpRouter.Streaming("summarizeRoom", a.summarizeRoom))
	must(a.httpRouter.SSE("roomEvents", a.roomEvents))
	must(a.httpRouter.Download("exportTranscript", a.exportTranscript))
	a.sockRouter.MustHandle("chat", socket.Hooks{
		Open:    a.socketOpen,
		Message: a.socketMessage,
	})
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func (a *app) createMessage(ctx context.Context, req *router.Request) (*router.Response, error) {
	params := req.Params.(map[string]any)
	body := req.Body.(map[string]any)
	msg := a.store.Append(
		params["roomId"].(string),
		body["author"].(string),
		body["text"].(string),
	)
	return &router.Response{Status: 201, Body: msg}, nil
}

func (a *app) listMessages(ctx context.Context, req *router.Request) (*router.Response, error) {
	params := req.Params.(map[string]any)
	limit := 0
	if query, ok := req.Query.(map[string]any); ok {
		if raw, ok := query["limit"].(string); ok {
			fmt.Sscanf(raw, "%d", &limit)
		}
	}
	msgs := a.store.Messages(params["roomId"].(string), limit)
	return &router.Response{Status: 200, Body: map[string]any{"messages": msgs}}, nil
}

func (a *app) getMessage(ctx context.Context, req *router.Request) (*router.Response, error) {
	params := req.Params.(map[string]any)
	msg, ok := a.store.Get(params["roomId"].(string), params["messageId"].(string))
	if !ok {
		return &router.Response{Status: 404, Body: map[string]any{"message": "message not found"}}, nil
	}
	return &router.Response{Status: 200, Body: msg}, nil
}

// summarizeRoom streams one chunk per stored message, then closes with the
// message count.
func (a *app) summarizeRoom(ctx context.Context, req *router.Request, em *router.StreamEmitter) error {
	params := req.Params.(map[string]any)
	msgs := a.store.Messages(params["roomId"].(string), 0)
	for _, msg := range msgs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := em.Send(map[string]any{"author": msg.Author, "text": msg.Text}); err != nil {
			return err
		}
	}
	return em.Close(map[string]any{"messageCount": len(msgs)})
}

// roomEvents forwards store notifications as SSE events until the client
// disconnects.
func (a *app) roomEvents(ctx context.Context, req *router.Request, em *router.SSEEmitter) (func(), error) {
	params := req.Params.(map[string]any)
	events, stop := a.store.Listen(params["roomId"].(string))

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				if err := em.Send(event.Name, event.Payload, router.WithEventID(event.Payload["id"].(string))); err != nil {
					return
				}
			}
		}
	}()

	return stop, nil
}

func (a *app) exportTranscript(ctx context.Context, req *router.Request) (*router.DownloadResponse, error) {
	params := req.Params.(map[string]any)
	roomID := params["roomId"].(string)
	msgs := a.store.Messages(roomID, 0)
	if len(msgs) == 0 {
		return &router.DownloadResponse{
			Status:    404,
			ErrorBody: map[string]any{"message": "room has no messages"},
		}, nil
	}

	var b strings.Builder
	for _, msg := range msgs {
		fmt.Fprintf(&b, "[%s] %s: %s\n", msg.CreatedAt, msg.Author, msg.Text)
	}
	return &router.DownloadResponse{
		Status: 200,
		Attachment: &router.Attachment{
			Filename:    roomID + "-transcript.txt",
			ContentType: "text/plain; charset=utf-8",
			Content:     []byte(b.String()),
		},
	}, nil
}

func (a *app) socketOpen(ctx context.Context, s *socket.Session) error {
	params := s.Params.(map[string]any)
	roomID := params["roomId"].(string)
	s.State["roomId"] = roomID
	return s.Subscribe("room:" + roomID)
}

func (a *app) socketMessage(ctx context.Context, s *socket.Session, msg socket.Message) error {
	roomID := s.State["roomId"].(string)
	switch msg.Type {
	case "sendMessage":
		payload := msg.Payload.(map[string]any)
		stored := a.store.Append(roomID, payload["author"].(string), payload["text"].(string))
		if err := s.Publish("room:"+roomID, "messageAdded", stored); err != nil {
			return err
		}
		return s.Send("messageAdded", stored)
	case "typing":
		return s.Publish("room:"+roomID, "typing", msg.Payload)
	default:
		return nil
	}
}

func chatContract() *contract.Contract {
	messageSchema := schema.MustJSON(`{
		"type": "object",
		"properties": {
			"id": {"type": "string"},
			"author": {"type": "string"},
			"text": {"type": "string"},
			"createdAt": {"type": "string"}
		},
		"required": ["id", "author", "text", "createdAt"]
	}`)
	roomParams := schema.MustJSON(`{
		"type": "object",
		"properties": {"roomId": {"type": "string", "minLength": 1}},
		"required": ["roomId"]
	}`)

	return contract.MustNew(
		contract.Entry{
			Name: "createMessage",
			Endpoint: contract.Endpoint{
				Kind:   contract.KindStandard,
				Method: "POST",
				Path:   "/rooms/:roomId/messages",
				Params: roomParams,
				Body: schema.MustJSON(`{
					"type": "object",
					"properties": {
						"author": {"type": "string", "minLength": 1},
						"text": {"type": "string", "minLength": 1}
					},
					"required": ["author", "text"]
				}`),
				Responses: map[int]schema.Schema{201: messageSchema},
			},
		},
		contract.Entry{
			Name: "listMessages",
			Endpoint: contract.Endpoint{
				Kind:      contract.KindStandard,
				Method:    "GET",
				Path:      "/rooms/:roomId/messages",
				Params:    roomParams,
				Query:     schema.Any(),
				Responses: map[int]schema.Schema{200: schema.Any()},
			},
		},
		contract.Entry{
			Name: "getMessage",
			Endpoint: contract.Endpoint{
				Kind:   contract.KindStandard,
				Method: "GET",
				Path:   "/rooms/:roomId/messages/:messageId",
				Params: schema.Any(),
				Responses: map[int]schema.Schema{
					200: messageSchema,
				},
				ErrorResponses: map[int]schema.Schema{
					404: schema.MustJSON(`{
						"type": "object",
						"properties": {"message": {"type": "string"}},
						"required": ["message"]
					}`),
				},
			},
		},
		contract.Entry{
			Name: "summarizeRoom",
			Endpoint: contract.Endpoint{
				Kind:   contract.KindStreaming,
				Path:   "/rooms/:roomId/summary",
				Params: roomParams,
				Chunk: schema.MustJSON(`{
					"type": "object",
					"properties": {
						"author": {"type": "string"},
						"text": {"type": "string"}
					},
					"required": ["author", "text"]
				}`),
				FinalResponse: schema.MustJSON(`{
					"type": "object",
					"properties": {"messageCount": {"type": "number"}},
					"required": ["messageCount"]
				}`),
			},
		},
		contract.Entry{
			Name: "roomEvents",
			Endpoint: contract.Endpoint{
				Kind:   contract.KindSSE,
				Path:   "/rooms/:roomId/events",
				Params: roomParams,
				Events: map[string]schema.Schema{
					"messageCreated": schema.Any(),
				},
			},
		},
		contract.Entry{
			Name: "exportTranscript",
			Endpoint: contract.Endpoint{
				Kind:      contract.KindDownload,
				Method:    "GET",
				Path:      "/rooms/:roomId/transcript",
				Params:    roomParams,
				Responses: map[int]schema.Schema{200: schema.Any()},
				ErrorResponses: map[int]schema.Schema{
					404: schema.Any(),
				},
			},
		},
	)
}

func chatSocketContract() *contract.SocketContract {
	return contract.MustNewSocket(contract.SocketEntry{
		Name: "chat",
		Endpoint: contract.SocketEndpoint{
			Path: "/rooms/:roomId/ws",
			Params: schema.MustJSON(`{
				"type": "object",
				"properties": {"roomId": {"type": "string", "minLength": 1}},
				"required": ["roomId"]
			}`),
			ClientMessages: map[string]schema.Schema{
				"sendMessage": schema.MustJSON(`{
					"type": "object",
					"properties": {
						"author": {"type": "string", "minLength": 1},
						"text": {"type": "string", "minLength": 1}
					},
					"required": ["author", "text"]
				}`),
				"typing": schema.MustJSON(`{
					"type": "object",
					"properties": {"author": {"type": "string"}},
					"required": ["author"]
				}`),
			},
			ServerMessages: map[string]schema.Schema{
				"messageAdded": schema.Any(),
				"typing":       schema.Any(),
			},
		},
	})
}
