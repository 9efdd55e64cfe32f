package lsp

import (
	"encoding/json"

	"lspbase/internal/config"
)

func (s *Server) handleDidChangeConfiguration(msg *rpcMessage) error {
	var params didChangeConfigurationParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.logf("invalid didChangeConfiguration params: %v", err)
			return nil
		}
	}
	if config.HasSection(params.Settings) {
		s.applySettings(params.Settings)
		return nil
	}
	s.mu.Lock()
	canConfigure := s.canConfigure
	s.mu.Unlock()
	if !canConfigure {
		s.logf("configuration change without %s section ignored", config.Section)
		return nil
	}
	return s.requestConfiguration()
}

// requestConfiguration pulls the settings section from the client. The
// response is applied on the read loop.
func (s *Server) requestConfiguration() error {
	params := configurationParams{Items: []configurationItem{{Section: config.Section}}}
	return s.sendRequest("workspace/configuration", params, func(result json.RawMessage, rpcErr *rpcError) {
		if rpcErr != nil {
			s.logf("workspace/configuration failed: %s", rpcErr.Message)
			return
		}
		s.applySettings(result)
	})
}

func (s *Server) applySettings(raw json.RawMessage) {
	// Reconfigure reloads in place; validations started before it are stale
	s.epoch.Add(1)
	if !s.engine.Reconfigure(raw) {
		s.logf("settings ignored")
		return
	}
	cur := s.engine.Settings()
	s.logf("settings applied: input=%q ext=%q encoding=%q", cur.InputPathPattern, cur.RecordExtension, cur.Encoding)
	s.revalidateAll()
}
