package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"

	"github.com/clipscope/clipscope-go/internal/middleware"
	"github.com/clipscope/clipscope-go/internal/service"
)

// CDN hosts refuse requests without browser-looking headers.
const (
	proxyUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	proxyReferer   = "https://www.tiktok.com/"

	maxProxyBodyBytes = 10 << 20 // 10 MiB
)

// ProxyHandler serves video cover images through the backend so the
// frontend avoids CDN hotlink blocks. Bodies are cached in Redis.
type ProxyHandler struct {
	cache  *service.CacheService
	client *http.Client
}

func NewProxyHandler(cache *service.CacheService) *ProxyHandler {
	return &ProxyHandler{
		cache: cache,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Image handles GET /api/proxy/image?url=X
func (h *ProxyHandler) Image(c fiber.Ctx) error {
	rawURL, errMsg := middleware.ValidateImageURL(fiber.Query[string](c, "url"))
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
	}

	if body, err := h.cache.GetImage(c.Context(), rawURL); err == nil && body != nil {
		c.Set(fiber.HeaderCacheControl, "public, max-age=86400")
		c.Set(fiber.HeaderContentType, http.DetectContentType(body))
		return c.Send(body)
	} else if err != nil {
		log.Warn().Err(err).Msg("image cache read failed")
	}

	req, err := http.NewRequestWithContext(c.Context(), http.MethodGet, rawURL, nil)
	if err != nil {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", "url must be a valid http(s) URL")
	}
	req.Header.Set("User-Agent", proxyUserAgent)
	req.Header.Set("Referer", proxyReferer)
	req.Header.Set("Accept", "image/*,*/*;q=0.8")

	resp, err := h.client.Do(req)
	if err != nil {
		return middleware.ErrorResponse(c, fiber.StatusBadGateway, "UPSTREAM_ERROR", "Failed to fetch image")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return middleware.ErrorResponse(c, fiber.StatusBadGateway, "UPSTREAM_ERROR", "Upstream returned an error")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProxyBodyBytes))
	if err != nil {
		return middleware.ErrorResponse(c, fiber.StatusBadGateway, "UPSTREAM_ERROR", "Failed to read image")
	}

	if err := h.cache.SetImage(c.Context(), rawURL, body); err != nil {
		log.Warn().Err(err).Msg("image cache write failed")
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}

	c.Set(fiber.HeaderCacheControl, "public, max-age=86400")
	c.Set(fiber.HeaderContentType, contentType)
	return c.Send(body)
}
