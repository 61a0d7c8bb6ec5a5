package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"time"

	kit "chapterbot/internal/transport"
	logx "chapterbot/pkg/logx"
)

type menuPublisher struct {
	endpoint string
	http     *http.Client
	log      logx.Logger

	mu   sync.Mutex
	hash uint64
}

func newMenuPublisher(apiURL, token string, log logx.Logger) *menuPublisher {
	return &menuPublisher{
		endpoint: strings.TrimRight(apiURL, "/") + "/bot" + strings.TrimSpace(token) + "/setMyCommands",
		http:     &http.Client{Timeout: 8 * time.Second},
		log:      log,
	}
}

type menuCommand struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

func menuPayload(cmds []kit.BotCommand) []menuCommand {
	out := make([]menuCommand, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if len(d) > 256 {
			d = d[:256]
		}
		out = append(out, menuCommand{Command: c.Command, Description: d})
		if len(out) == 100 {
			break
		}
	}
	return out
}

func (p *menuPublisher) publish(ctx context.Context, cmds []kit.BotCommand) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := menuPayload(cmds)
	h := fnv.New64a()
	for _, c := range list {
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(c.Description))
		h.Write([]byte{0})
	}
	sum := h.Sum64()
	if sum == p.hash {
		return nil
	}

	b, err := json.Marshal(struct {
		Commands []menuCommand `json:"commands"`
	}{list})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var res struct {
		OK          bool   `json:"ok"`
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&res)
	if resp.StatusCode/100 != 2 || !res.OK {
		if res.Description != "" {
			return fmt.Errorf("telegram setMyCommands failed: %s (code=%d http=%d)", res.Description, res.ErrorCode, resp.StatusCode)
		}
		return fmt.Errorf("telegram setMyCommands failed: http=%d", resp.StatusCode)
	}
	p.hash = sum
	p.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}
