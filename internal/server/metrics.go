package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"
)

// metricsReader aggregates the tail of usage.jsonl on demand. Metrics are
// computed from the log alone; no database is involved.
type metricsReader struct {
	path        string
	windowLines int
}

func newMetricsReader(path string, windowLines int) *metricsReader {
	if windowLines <= 0 {
		windowLines = 5000
	}
	return &metricsReader{path: path, windowLines: windowLines}
}

// tail reads the last windowLines usage events, oldest first.
func (m *metricsReader) tail() ([]UsageEvent, error) {
	f, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	// Ring of raw lines; the log can grow large and only the tail matters.
	ring := make([]string, 0, m.windowLines)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(ring) == m.windowLines {
			ring = ring[1:]
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	events := make([]UsageEvent, 0, len(ring))
	for _, line := range ring {
		var ev UsageEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

type instanceStats struct {
	ToolCalls   int            `json:"tool_calls"`
	Syncs       int            `json:"syncs"`
	Denials     int            `json:"denials"`
	ByTool      map[string]int `json:"by_tool"`
	TotalMS     int64          `json:"-"`
	durationsMS []int64
}

func aggregate(events []UsageEvent) map[string]*instanceStats {
	stats := map[string]*instanceStats{}
	for _, ev := range events {
		inst := ev.Instance
		if inst == "" {
			inst = "unknown"
		}
		st, ok := stats[inst]
		if !ok {
			st = &instanceStats{ByTool: map[string]int{}}
			stats[inst] = st
		}
		switch {
		case ev.Event == "tool_call":
			st.ToolCalls++
			st.ByTool[ev.Tool]++
			st.TotalMS += ev.DurationMS
			st.durationsMS = append(st.durationsMS, ev.DurationMS)
		case ev.Event == "sync":
			st.Syncs++
		case strings.HasPrefix(ev.Event, "denied:"):
			st.Denials++
		}
	}
	return stats
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	instances := map[string]any{}
	for _, name := range s.instances.Names() {
		inst, ok := s.instances.Get(name)
		if !ok {
			continue
		}
		count, err := inst.Records.Count()
		if err != nil {
			instances[name] = map[string]any{"status": "error"}
			continue
		}
		instances[name] = map[string]any{"status": "ok", "records": count}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        Version,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"instances":      instances,
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":             serverName,
		"version":          Version,
		"protocol_version": protocolVersion,
		"instances":        s.instances.Names(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeJSON(w, http.StatusOK, map[string]any{"instances": map[string]any{}})
		return
	}
	events, err := s.metrics.tail()
	if err != nil {
		s.logger.Warn("metrics.read_failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "could not read usage log"})
		return
	}

	stats := aggregate(events)
	out := map[string]any{}
	totalCalls := 0
	for inst, st := range stats {
		totalCalls += st.ToolCalls
		out[inst] = map[string]any{
			"tool_calls": st.ToolCalls,
			"syncs":      st.Syncs,
			"denials":    st.Denials,
			"by_tool":    st.ByTool,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"window_events":    len(events),
		"total_tool_calls": totalCalls,
		"instances":        out,
	})
}

func (s *Server) handleInstanceDetail(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	inst, ok := s.instances.Get(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown instance"})
		return
	}

	detail := map[string]any{"instance": name}
	if count, err := inst.Records.Count(); err == nil {
		detail["records"] = count
	}
	if size, err := inst.Records.DirSize(); err == nil {
		detail["storage_bytes"] = size
	}

	if s.metrics != nil {
		events, err := s.metrics.tail()
		if err == nil {
			st, ok := aggregate(events)[name]
			if !ok {
				st = &instanceStats{ByTool: map[string]int{}}
			}
			usage := map[string]any{
				"tool_calls": st.ToolCalls,
				"syncs":      st.Syncs,
				"denials":    st.Denials,
				"by_tool":    st.ByTool,
			}
			if st.ToolCalls > 0 {
				usage["avg_duration_ms"] = st.TotalMS / int64(st.ToolCalls)
				usage["p95_duration_ms"] = percentile(st.durationsMS, 95)
			}
			detail["usage"] = usage
		}
	}

	writeJSON(w, http.StatusOK, detail)
}

func percentile(values []int64, p int) int64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
