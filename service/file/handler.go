// Copyright 2025 The fawa Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package file

import (
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"mime"
	"net/http"
	"path"
	"time"

	"github.com/fawa-io/drop/pkg/fwlog"
	"github.com/fawa-io/drop/pkg/storage"
)

// multipartMemory is how much of a form is held in memory before parts
// spill to temporary files.
const multipartMemory = 32 << 20

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>drop</title>
<style>
body{font-family:sans-serif;display:flex;justify-content:center;margin-top:10vh}
.box{text-align:center}
.button{border:2px dashed #888;padding:2em 3em;position:relative;margin:1em 0}
.button input{position:absolute;inset:0;opacity:0;cursor:pointer}
</style>
</head>
<body>
<div class="box">
<h1>drop</h1>
<form id="upload" action="/upload" method="POST" enctype="multipart/form-data">
<div class="button"><b>Select/Drop file here~</b>
<input type="file" name="file" onchange="this.form.submit()">
</div>
<select name="date">
<option value="day" selected>Day</option>
<option value="week">Week</option>
<option value="month">Month</option>
</select>
</form>
<p>File size limit is {{.MaxMB}}MB</p>
</div>
</body>
</html>
`))

// Handler serves the upload form, uploads and stored files.
type Handler struct {
	pipeline *Pipeline
	meta     storage.MetaStore
	blobs    storage.BlobStore
	metrics  http.Handler
	now      func() time.Time
}

// NewHandler returns a Handler. metricsHandler may be nil, in which case
// /metrics is not served.
func NewHandler(p *Pipeline, meta storage.MetaStore, blobs storage.BlobStore, metricsHandler http.Handler) *Handler {
	return &Handler{
		pipeline: p,
		meta:     meta,
		blobs:    blobs,
		metrics:  metricsHandler,
		now:      time.Now,
	}
}

// Routes registers every endpoint on a new mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.Index)
	mux.HandleFunc("POST /upload", h.Upload)
	mux.HandleFunc("GET /file/{id}", h.ServeFile)
	mux.HandleFunc("GET /health", h.Health)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
	return mux
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := struct{ MaxMB int64 }{h.pipeline.MaxBytes() >> 20}
	if err := indexTmpl.Execute(w, data); err != nil {
		fwlog.Errorf("Render index: %v", err)
	}
}

// Upload accepts a multipart form with a "file" part and an optional
// "date" field, and answers with the path of the stored file.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.Admit(r.ContentLength); err != nil {
		h.fail(w, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.pipeline.MaxBytes())

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, h.pipeline.Reject(KindPayloadTooLarge, "file is too large", err))
			return
		}
		h.fail(w, h.pipeline.Reject(KindBadRequest, "not a multipart request", err))
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			fwlog.Warnf("Remove multipart temp files: %v", err)
		}
	}()

	f, fh, err := r.FormFile("file")
	if err != nil {
		h.fail(w, h.pipeline.Reject(KindBadRequest, "cannot locate file", err))
		return
	}
	defer f.Close()

	var retention string
	if v := r.MultipartForm.Value["date"]; len(v) > 0 {
		retention = v[0]
	}

	res, err := h.pipeline.Ingest(r.Context(), Upload{
		Filename:  fh.Filename,
		Body:      f,
		Size:      fh.Size,
		Retention: retention,
	})
	if err != nil {
		h.fail(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, res.Path)
}

// ServeFile streams a stored blob while its record is live.
func (h *Handler) ServeFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if storage.ValidateID(id) != nil {
		http.NotFound(w, r)
		return
	}

	rec, err := h.meta.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		fwlog.Errorf("Look up %s: %v", id, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if rec.Expired(h.now()) {
		http.NotFound(w, r)
		return
	}

	rc, err := h.blobs.Read(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		fwlog.Errorf("Blob %s missing for live record", id)
		http.NotFound(w, r)
		return
	}
	if err != nil {
		fwlog.Errorf("Open blob %s: %v", id, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	if ct := mime.TypeByExtension(path.Ext(id)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "sandbox")
	w.Header().Set("ETag", `"`+rec.Hash+`"`)

	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, id, time.Time{}, rs)
		return
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	if _, err := io.Copy(w, rc); err != nil {
		fwlog.Warnf("Send %s: %v", id, err)
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	var ue *UploadError
	if !errors.As(err, &ue) {
		ue = &UploadError{Kind: KindInternal, Msg: "internal error", Err: err}
	}
	msg := ue.Msg
	if ue.Kind == KindInternal {
		fwlog.Errorf("Upload failed: %v", ue)
		msg = "internal error"
	} else {
		fwlog.Debugf("Upload rejected: %v", ue)
	}
	http.Error(w, msg, ue.Kind.Status())
}
