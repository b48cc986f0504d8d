package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/process"

	"hostpulse/internal/sampler"
)

type healthResp struct {
	Status      string         `json:"status"`
	Version     string         `json:"version"`
	Host        string         `json:"host"`
	Platform    string         `json:"platform"`
	Uptime      uint64         `json:"uptime"` // host uptime, seconds
	RSS         uint64         `json:"rss"`    // this process, bytes
	Subscribers map[string]int `json:"subscribers"`
}

// HealthHandler returns basic health info.
// @Summary Health check
// @Produce json
// @Success 200 {object} healthResp
// @Router /health [get]
func HealthHandler(topics *sampler.Topics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		resp := healthResp{
			Status:  "ok",
			Version: BackendVersion,
			Subscribers: map[string]int{
				topics.CPU.Name():    topics.CPU.Subscribers(),
				topics.Memory.Name(): topics.Memory.Subscribers(),
			},
		}
		resp.Host, _ = os.Hostname()
		resp.Platform = platform(ctx)
		if up, err := host.UptimeWithContext(ctx); err == nil {
			resp.Uptime = up
		}
		if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
			if mi, err := p.MemoryInfoWithContext(ctx); err == nil {
				resp.RSS = mi.RSS
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// platform names the OS distribution, e.g. "ubuntu 24.04" or "macOS 14.5".
func platform(ctx context.Context) string {
	info, err := host.InfoWithContext(ctx)
	if err != nil || info.Platform == "" {
		return runtime.GOOS
	}
	name := info.Platform
	if runtime.GOOS == "darwin" {
		name = "macOS"
	}
	if info.PlatformVersion == "" {
		return name
	}
	return fmt.Sprintf("%s %s", name, info.PlatformVersion)
}
