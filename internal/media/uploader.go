package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/golang/glog"
)

// ErrUploadFailed - файл не удалось загрузить; публикация не создаётся.
var ErrUploadFailed = errors.New("media upload failed")

// File - вложение, выбранное пользователем.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// Uploader загружает файл и возвращает постоянный URL.
type Uploader interface {
	Upload(ctx context.Context, f File) (string, error)
}

const defaultBaseURL = "https://api.cloudinary.com/v1_1"

// Cloudinary - неподписанная загрузка через upload preset.
type Cloudinary struct {
	cloud   string
	preset  string
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// CloudinaryOption настраивает загрузчик.
type CloudinaryOption func(*Cloudinary)

// WithBaseURL подменяет адрес API (для тестов).
func WithBaseURL(u string) CloudinaryOption {
	return func(c *Cloudinary) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(client *http.Client) CloudinaryOption {
	return func(c *Cloudinary) { c.client = client }
}

func WithClock(now func() time.Time) CloudinaryOption {
	return func(c *Cloudinary) { c.now = now }
}

func NewCloudinary(cloud, preset string, opts ...CloudinaryOption) *Cloudinary {
	c := &Cloudinary{
		cloud:   cloud,
		preset:  preset,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Uploader = (*Cloudinary)(nil)

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Upload отправляет файл в /{cloud}/auto/upload. public_id получает
// метку времени в миллисекундах, чтобы одинаковые имена не перезаписывали друг друга.
func (c *Cloudinary) Upload(ctx context.Context, f File) (string, error) {
	if c.cloud == "" || c.preset == "" {
		return "", fmt.Errorf("%w: cloudinary is not configured", ErrUploadFailed)
	}

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	_ = w.WriteField("upload_preset", c.preset)
	_ = w.WriteField("public_id", fmt.Sprintf("%d-%s", c.now().UnixMilli(), publicName(f.Name)))

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, f.Name))
	if f.MimeType != "" {
		h.Set("Content-Type", f.MimeType)
	}
	part, err := w.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if _, err := part.Write(f.Data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	endpoint := fmt.Sprintf("%s/%s/auto/upload", c.baseURL, c.cloud)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	var out uploadResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: status %d: %v", ErrUploadFailed, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || out.SecureURL == "" {
		msg := http.StatusText(resp.StatusCode)
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return "", fmt.Errorf("%w: status %d: %s", ErrUploadFailed, resp.StatusCode, msg)
	}

	glog.V(2).Infof("[media] uploaded %s (%d bytes)", f.Name, len(f.Data))
	return out.SecureURL, nil
}

// Optimize добавляет к адресу Cloudinary преобразование для ленты.
// Чужие адреса и уже оптимизированные возвращаются как есть.
func Optimize(url string) string {
	const marker = "/upload/"
	const transform = "w_800,q_auto,f_auto/"
	if !strings.Contains(url, "cloudinary.com") || strings.Contains(url, marker+transform) {
		return url
	}
	return strings.Replace(url, marker, marker+transform, 1)
}

func publicName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	if name == "" {
		return "file"
	}
	return strings.ReplaceAll(name, " ", "_")
}
