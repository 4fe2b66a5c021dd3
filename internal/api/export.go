package api

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/nugget/laopeng-portal/internal/conversation"
)

//go:embed templates/export.html
var templateFiles embed.FS

var templateFuncs = template.FuncMap{
	"formatTime": func(ms int64) string {
		if ms == 0 {
			return ""
		}
		return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
	},
}

// exportTemplate panics on a syntax error so that startup fails fast.
var exportTemplate = template.Must(
	template.New("export.html").Funcs(templateFuncs).ParseFS(templateFiles, "templates/export.html"),
)

// markdown renders assistant replies, which are GitHub-flavoured
// markdown. Raw HTML in the source is not passed through.
var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

type exportMessage struct {
	Role      conversation.Role
	Speaker   string
	Timestamp int64
	HTML      template.HTML
}

type exportPage struct {
	Title     string
	AgentName string
	CreatedAt int64
	Messages  []exportMessage
}

// renderTranscript renders a conversation as a standalone HTML page.
func (s *Server) renderTranscript(conv conversation.Conversation) ([]byte, error) {
	agent := s.catalog.Resolve(conv.AgentID)
	page := exportPage{
		Title:     conv.Title,
		AgentName: agent.Name,
		CreatedAt: conv.CreatedAt,
		Messages:  make([]exportMessage, 0, len(conv.Messages)),
	}
	for _, m := range conv.Messages {
		var body bytes.Buffer
		if err := markdown.Convert([]byte(m.Content), &body); err != nil {
			return nil, fmt.Errorf("render message %s: %w", m.ID, err)
		}
		speaker := "我"
		if m.Role == conversation.RoleAssistant {
			speaker = agent.Name
		}
		page.Messages = append(page.Messages, exportMessage{
			Role:      m.Role,
			Speaker:   speaker,
			Timestamp: m.Timestamp,
			HTML:      template.HTML(body.String()),
		})
	}

	var out bytes.Buffer
	if err := exportTemplate.Execute(&out, page); err != nil {
		return nil, fmt.Errorf("execute export template: %w", err)
	}
	return out.Bytes(), nil
}

// handleExport serves the transcript as HTML.
// GET /v1/conversations/{id}/export[?download=1]
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.store.Get(r.PathValue("id"))
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}

	page, err := s.renderTranscript(conv)
	if err != nil {
		s.logger.Error("export failed", "conversation", conv.ID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "export: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if r.URL.Query().Get("download") != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"conversation-%s.html\"", shortID(conv.ID)))
	}
	if _, err := w.Write(page); err != nil {
		s.logger.Debug("failed to write export", "error", err)
	}
}

// QR code size bounds in pixels.
const (
	defaultQRSize = 256
	minQRSize     = 64
	maxQRSize     = 1024
)

// handleQR serves a PNG QR code linking to the conversation export.
// GET /v1/conversations/{id}/qr[?size=256]
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.store.Get(id); !ok {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}

	size := parseIntParam(r, "size", defaultQRSize)
	size = min(max(size, minQRSize), maxQRSize)

	link := s.baseURL(r) + "/v1/conversations/" + id + "/export"
	png, err := qrcode.Encode(link, qrcode.Medium, size)
	if err != nil {
		s.logger.Error("qr encode failed", "conversation", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "qr: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Share-URL", link)
	if _, err := w.Write(png); err != nil {
		s.logger.Debug("failed to write qr", "error", err)
	}
}

// baseURL is the configured public URL, else the one the request came
// in on.
func (s *Server) baseURL(r *http.Request) string {
	if s.publicURL != "" {
		return strings.TrimRight(s.publicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
