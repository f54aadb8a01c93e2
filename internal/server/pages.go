package server

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// handlePageList lists generated page slugs, newest first.
func (s *Server) handlePageList(w http.ResponseWriter, r *http.Request) {
	if s.pages == nil {
		writeJSON(w, http.StatusOK, map[string]any{"pages": []any{}})
		return
	}

	entries, err := os.ReadDir(s.pages.Dir())
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusOK, map[string]any{"pages": []any{}})
			return
		}
		s.logger.Error("pages.list_failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "could not list pages"})
		return
	}

	type pageInfo struct {
		Slug     string `json:"slug"`
		URL      string `json:"url"`
		Modified string `json:"modified"`
	}
	pages := make([]pageInfo, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".html") {
			continue
		}
		slug := strings.TrimSuffix(name, ".html")
		info := pageInfo{Slug: slug, URL: "/pages/" + slug}
		if fi, err := entry.Info(); err == nil {
			info.Modified = fi.ModTime().UTC().Format("2006-01-02T15:04:05Z")
		}
		pages = append(pages, info)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Modified > pages[j].Modified })

	writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

// handlePage serves one generated HTML page.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if s.pages == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "pages are not configured"})
		return
	}

	slug := strings.TrimSuffix(r.PathValue("slug"), ".html")
	html, err := s.pages.Read(slug)
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "page not found"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid page slug"})
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(html)
}

// handleScreenshot serves a stored capture image for an instance.
func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	instName := r.PathValue("instance")
	inst, ok := s.instances.Get(instName)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown instance"})
		return
	}

	filename := r.PathValue("filename")
	if !validImageName(filename) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid filename"})
		return
	}

	path := filepath.Join(inst.ImagesDir(), filename)
	f, err := os.Open(path)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "screenshot not found"})
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "screenshot not found"})
		return
	}
	http.ServeContent(w, r, filename, fi.ModTime(), f)
}

// validImageName rejects anything that could escape the images directory and
// anything that is not a known image extension.
func validImageName(name string) bool {
	if name == "" || strings.Contains(name, "..") ||
		strings.ContainsAny(name, `/\`) {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".webp":
		return true
	}
	return false
}
