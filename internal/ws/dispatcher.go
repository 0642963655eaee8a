// Package ws exposes generation over a per-session bidirectional WebSocket
// channel with incremental delivery.
package ws

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/teamgate-io/teamgate/internal/auth"
	"github.com/teamgate-io/teamgate/internal/engine"
	"github.com/teamgate-io/teamgate/internal/forms"
	"github.com/teamgate-io/teamgate/internal/models"
	"github.com/teamgate-io/teamgate/internal/prompt"
	"github.com/teamgate-io/teamgate/internal/provider"
	"github.com/teamgate-io/teamgate/internal/upstream"
	"github.com/teamgate-io/teamgate/internal/vault"
)

// ErrBusy indicates a concurrent generation on the same channel.
var ErrBusy = errors.New("a generation is already running on this channel")

// Close codes of the streaming protocol.
const (
	CloseBadRequest      = 4000
	CloseUnauthorized    = 4001
	CloseForbidden       = 4003
	CloseSessionNotFound = 4004
)

// Frame types of the streaming protocol.
const (
	frameChunk = "chunk"
	frameFinal = "final"
	frameError = "error"
)

// Generator drives one generation; satisfied by *engine.Engine.
type Generator interface {
	Generate(ctx context.Context, req engine.GenerateRequest) (*provider.Result, error)
}

// Store is the persistence surface the dispatcher needs.
type Store interface {
	GetTeamByID(ctx context.Context, id string) (*models.Team, error)
	GetSession(ctx context.Context, teamID, id string) (*models.Session, error)
	GetProviderRecord(ctx context.Context, teamID, providerID string) (*models.ProviderRecord, error)
	GetPromptTemplate(ctx context.Context, teamID string, id int64) (*models.PromptTemplate, error)
}

// FileRef is a client-supplied file attachment with pre-extracted content.
type FileRef struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// inbound is the client → server message.
type inbound struct {
	Query      string         `json:"query"`
	Stream     bool           `json:"stream"`
	Files      []FileRef      `json:"files,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// frame is the server → client message.
type frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type finalData struct {
	Answer string         `json:"answer"`
	Usage  provider.Usage `json:"usage"`
}

type errorData struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Handler upgrades /ws/sessions/{id} connections and dispatches generations.
type Handler struct {
	store     Store
	generator Generator
	jwtSecret string
	upgrader  websocket.Upgrader
}

func NewHandler(store Store, generator Generator, jwtSecret string) *Handler {
	return &Handler{
		store:     store,
		generator: generator,
		jwtSecret: jwtSecret,
		upgrader: websocket.Upgrader{
			Subprotocols: []string{"json"},
			CheckOrigin:  func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Subprotocols carry the credentials: ["json", <bearer>, <team id>].
	protocols := websocket.Subprotocols(r)
	if len(protocols) < 3 {
		closeWith(conn, CloseUnauthorized, "missing credentials")
		return
	}
	token, teamID := protocols[1], protocols[2]

	claims, err := auth.ValidateToken(token, h.jwtSecret)
	if err != nil {
		closeWith(conn, CloseUnauthorized, "invalid token")
		return
	}
	if claims.TeamID != teamID {
		closeWith(conn, CloseForbidden, "token is not scoped to this team")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	team, err := h.store.GetTeamByID(ctx, teamID)
	if err != nil {
		closeWith(conn, CloseForbidden, "unknown team")
		return
	}
	session, err := h.store.GetSession(ctx, teamID, sessionID)
	if err != nil {
		closeWith(conn, CloseSessionNotFound, "session not found")
		return
	}
	record, err := h.store.GetProviderRecord(ctx, teamID, session.ProviderID)
	if err != nil || !record.Valid {
		closeWith(conn, CloseBadRequest, "provider is not configured for this team")
		return
	}

	template := prompt.Template{Type: prompt.TemplateSimple}
	if session.Type == models.SessionPrompt && session.PromptTemplateID != nil {
		stored, err := h.store.GetPromptTemplate(ctx, teamID, *session.PromptTemplateID)
		if err != nil {
			closeWith(conn, CloseBadRequest, "prompt template not found")
			return
		}
		template = stored.Template()
	}

	h.serve(ctx, cancel, conn, team, session, record, template)
}

// channel serialises writes; reads stay on the connection goroutine so a
// client close is observed immediately and cancels the generation.
type channel struct {
	conn *websocket.Conn
	mu   sync.Mutex
	busy atomic.Bool
}

func (c *channel) write(f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(f)
}

func (h *Handler) serve(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, team *models.Team, session *models.Session, record *models.ProviderRecord, template prompt.Template) {
	ch := &channel{conn: conn}
	var wg sync.WaitGroup

	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			// Client gone: abandon any in-flight generation.
			cancel()
			break
		}
		if msg.Query == "" {
			ch.write(frame{Type: frameError, Data: errorData{Kind: "BadRequest", Message: "query must not be empty"}})
			continue
		}

		if !ch.busy.CompareAndSwap(false, true) {
			ch.write(frame{Type: frameError, Data: errorData{Kind: "Busy", Message: ErrBusy.Error()}})
			continue
		}

		wg.Add(1)
		go func(msg inbound) {
			defer wg.Done()
			defer ch.busy.Store(false)
			h.generate(ctx, ch, team, session, record, template, msg)
		}(msg)
	}

	wg.Wait()
}

func (h *Handler) generate(ctx context.Context, ch *channel, team *models.Team, session *models.Session, record *models.ProviderRecord, template prompt.Template, msg inbound) {
	req := engine.GenerateRequest{
		Team:      team,
		Session:   session,
		Record:    record,
		Template:  template,
		Query:     msg.Query,
		Files:     joinFiles(msg.Files),
		Overrides: msg.Parameters,
		Stream:    msg.Stream,
	}
	if msg.Stream {
		req.OnChunk = func(content string) {
			ch.write(frame{Type: frameChunk, Data: content})
		}
	}

	result, err := h.generator.Generate(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			// Cancellation is absorbed silently.
			return
		}
		ch.write(frame{Type: frameError, Data: errorData{Kind: kindOf(err), Message: err.Error()}})
		ch.conn.Close()
		return
	}

	ch.write(frame{Type: frameFinal, Data: finalData{
		Answer: result.Message.Content,
		Usage:  result.Usage,
	}})
}

func joinFiles(files []FileRef) string {
	out := ""
	for _, f := range files {
		if out != "" {
			out += "\n"
		}
		out += f.Content
	}
	return out
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

// kindOf maps the error taxonomy onto protocol error kinds.
func kindOf(err error) string {
	switch {
	case errors.Is(err, engine.ErrContextOverflow):
		return "ContextOverflow"
	case errors.Is(err, forms.ErrMissing):
		return "MissingParameter"
	case errors.Is(err, forms.ErrInvalid):
		return "InvalidParameter"
	case errors.Is(err, provider.ErrUnknownProvider):
		return "UnknownProvider"
	case errors.Is(err, provider.ErrUnknownModel):
		return "UnknownModel"
	case errors.Is(err, provider.ErrUnsupportedModelType):
		return "UnsupportedModelType"
	case errors.Is(err, provider.ErrMissingCredential):
		return "MissingCredential"
	case errors.Is(err, provider.ErrInvalidCredential):
		return "InvalidCredential"
	case errors.Is(err, vault.ErrPrivateKeyNotFound):
		return "PrivateKeyNotFound"
	case errors.Is(err, vault.ErrCrypto):
		return "CryptoError"
	case errors.Is(err, upstream.ErrUpstreamTimeout):
		return "UpstreamTimeout"
	case errors.Is(err, upstream.ErrUpstreamDisconnected):
		return "UpstreamDisconnected"
	case errors.Is(err, upstream.ErrUpstream):
		return "UpstreamError"
	case errors.Is(err, prompt.ErrNotImplemented):
		return "NotImplemented"
	default:
		return "InternalError"
	}
}
