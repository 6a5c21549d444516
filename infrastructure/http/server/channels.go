package server

import (
	"chat-app/domain"
	"chat-app/search"
	"chat-app/services"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/samber/lo"
)

type publishRequest struct {
	Text     string   `json:"text" validate:"required,max=2000"`
	Tags     []string `json:"tags" validate:"max=10,dive,required,max=32"`
	ImageURL *string  `json:"imageUrl" validate:"omitempty,url"`
}

type textHitJSON struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

func channelIDFrom(r *http.Request) (domain.ChannelID, error) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		return 0, fmt.Errorf("invalid channel id %q", mux.Vars(r)["id"])
	}
	return domain.ChannelID(id), nil
}

// openChannel builds a channel service bound to the request session.
// Callers own the returned service and must Cleanup it.
func (g *Gateway) openChannel(ctx context.Context, r *http.Request, handlers ...services.PublishHandler) (*services.ChannelService, error) {
	channelID, err := channelIDFrom(r)
	if err != nil {
		return nil, err
	}
	return services.NewChannelService(ctx, g.log, g.deps.Store, sessionFrom(r.Context()), channelID,
		services.ChannelOptions{
			InitialLimit: g.options.InitialLimit,
			Presence:     g.deps.Presence,
			Censor:       g.deps.Censor,
			OnPublish:    handlers,
		})
}

// detachedChannel builds a feed-less channel service for one-shot requests.
func (g *Gateway) detachedChannel(r *http.Request) (*services.ChannelService, error) {
	channelID, err := channelIDFrom(r)
	if err != nil {
		return nil, err
	}
	return services.NewDetachedChannelService(g.log, g.deps.Store, sessionFrom(r.Context()), channelID,
		services.ChannelOptions{
			InitialLimit: g.options.InitialLimit,
			Censor:       g.deps.Censor,
		}), nil
}

// GetMessages handles GET /channels/{id}/messages
func (g *Gateway) GetMessages(w http.ResponseWriter, r *http.Request) {
	service, err := g.detachedChannel(r)
	if err != nil {
		g.log.Error("Opening channel failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to open channel")
		return
	}
	defer service.Cleanup()

	writeJSON(w, http.StatusOK, toMessagesJSON(service.GetInitialMessages(r.Context())))
}

// PostMessage handles POST /channels/{id}/messages.
// Publishing is fire-and-forget: the message comes back through the live feed.
func (g *Gateway) PostMessage(w http.ResponseWriter, r *http.Request) {
	var body publishRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := g.validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	service, err := g.detachedChannel(r)
	if err != nil {
		g.log.Error("Opening channel failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to open channel")
		return
	}
	defer service.Cleanup()

	service.Publish(r.Context(), g.publishCommand(r, body))
	g.deps.Monitoring.IncrMessagesPublished()
	w.WriteHeader(http.StatusAccepted)
}

func (g *Gateway) publishCommand(r *http.Request, body publishRequest) domain.PublishCommand {
	channelID, _ := channelIDFrom(r)
	return domain.PublishCommand{
		Body:          body.Text,
		PublisherName: sessionFrom(r.Context()).GetUserName(),
		ImageURL:      body.ImageURL,
		Tags:          lo.Uniq(body.Tags),
		ChannelID:     channelID,
	}
}

// SearchByTags handles GET /channels/{id}/search?condition=and|or&tag=a&tag=b
func (g *Gateway) SearchByTags(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	condition := domain.SearchCondition(strings.ToLower(query.Get("condition")))
	tags := lo.Compact(query["tag"])

	service, err := g.detachedChannel(r)
	if err != nil {
		g.log.Error("Opening channel failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to open channel")
		return
	}
	defer service.Cleanup()

	g.deps.Monitoring.IncrSearchQueries()
	messages, err := service.SearchByTags(r.Context(), condition, tags)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toMessagesJSON(messages))
}

// UploadImage handles POST /images (multipart, field "file")
func (g *Gateway) UploadImage(w http.ResponseWriter, r *http.Request) {
	if g.deps.Images == nil {
		writeError(w, http.StatusNotImplemented, "image upload is not configured")
		return
	}
	if g.options.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, g.options.MaxUploadBytes)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	url, err := g.deps.Images.UploadImage(r.Context(), services.UploadRequest{
		UserName: sessionFrom(r.Context()).GetUserName(),
		FileName: header.Filename,
		Data:     data,
	})
	if err != nil {
		g.deps.Monitoring.IncrErrorCount()
		writeError(w, statusFor(err), err.Error())
		return
	}
	g.deps.Monitoring.IncrImagesUploaded()
	writeJSON(w, http.StatusCreated, map[string]string{"url": url})
}

// SearchText handles GET /search/text?q=&channel=&offset=
func (g *Gateway) SearchText(w http.ResponseWriter, r *http.Request) {
	if g.deps.Index == nil {
		writeError(w, http.StatusNotImplemented, "text search is not configured")
		return
	}
	query := r.URL.Query()

	var channelID *domain.ChannelID
	if raw := query.Get("channel"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid channel")
			return
		}
		channelID = lo.ToPtr(domain.ChannelID(id))
	}
	offset, err := strconv.Atoi(lo.CoalesceOrEmpty(query.Get("offset"), "0"))
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	g.deps.Monitoring.IncrSearchQueries()
	hits, total, err := g.deps.Index.SearchPaginated(r.Context(), query.Get("q"), channelID, offset)
	if err != nil {
		g.log.Error("Text search failed", "error", err)
		g.deps.Monitoring.IncrErrorCount()
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hits": lo.Map(hits, func(h search.Hit, _ int) textHitJSON {
			return textHitJSON{ID: h.ID, Score: h.Score}
		}),
		"total": total,
	})
}
