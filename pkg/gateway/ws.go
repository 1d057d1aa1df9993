package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/harun/insight/internal/tracing"
	"github.com/harun/insight/pkg/agent"
)

const maxFrameBytes = 64 << 10

// handleWebSocket serves one conversation per connection. The connection's
// history is passed to each run and extended with completed answers.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	clientID, err := gonanoid.New()
	if err != nil {
		conn.Close()
		return
	}
	client := newClient(clientID, clientIP(r), conn)
	s.clients.Add(client)

	connCtx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		conn.Close()
		s.clients.Remove(clientID)
		s.logger.Info().Str("clientId", clientID).Msg("Client disconnected")
	}()

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", client.IPAddress).
		Msg("Client connected")

	if err := s.greet(client); err != nil {
		s.logger.Error().Err(err).Str("clientId", clientID).Msg("Failed to send greeting")
		return
	}

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Str("clientId", clientID).Msg("WebSocket error")
			}
			return
		}
		client.touch()

		if !s.handleFrame(connCtx, client, frame) {
			return
		}
	}
}

// greet sends an auth challenge, or a ready frame when auth is disabled.
func (s *Server) greet(client *Client) error {
	if !s.authHandler.Enabled() {
		client.mu.Lock()
		client.authenticated = true
		client.mu.Unlock()
		return client.WriteFrame(Frame{Type: "ready", Message: client.ID})
	}

	challenge, err := s.authHandler.GenerateChallenge()
	if err != nil {
		return err
	}
	client.mu.Lock()
	client.challenge = challenge
	client.mu.Unlock()
	return client.WriteFrame(Frame{Type: "challenge", Challenge: challenge})
}

// handleFrame processes one client frame. It returns false when the
// connection should be closed.
func (s *Server) handleFrame(ctx context.Context, client *Client, frame Frame) bool {
	if frame.Type == "auth" {
		result, closeConn := s.authHandler.HandleAuthResponse(client, frame.Signature)
		if result.OK {
			result.Message = client.ID
			s.logger.Info().Str("clientId", client.ID).Msg("Client authenticated")
		} else {
			s.logger.Warn().Str("clientId", client.ID).Str("reason", result.Message).Msg("Authentication failed")
		}
		if err := client.WriteFrame(result); err != nil {
			return false
		}
		return !closeConn
	}

	if !client.Authenticated() {
		return s.sendError(client, "authentication required")
	}

	switch frame.Type {
	case "ask":
		return s.startConversationRun(ctx, client, frame.Question)
	case "cancel":
		runID := client.currentRun()
		if runID == "" || !s.runner.Abort(runID) {
			return s.sendError(client, "no active run")
		}
		return true
	default:
		return s.sendError(client, "unknown frame type: "+frame.Type)
	}
}

func (s *Server) startConversationRun(ctx context.Context, client *Client, question string) bool {
	if client.currentRun() != "" {
		return s.sendError(client, "a run is already active")
	}

	body, _ := json.Marshal(RunRequest{Question: question, History: client.History()})
	if err := s.validator.Validate(body); err != nil {
		return s.sendError(client, "invalid question: "+strings.Join(err.(*SchemaError).Violations, "; "))
	}

	release, reason := s.limiter.Acquire(client.ID)
	if release == nil {
		return s.sendError(client, reason)
	}

	ctx = tracing.WithTraceID(ctx, tracing.NewTraceID())
	ctx = tracing.WithSessionKey(ctx, "ws:"+client.ID)

	stream, err := s.runner.Run(ctx, question, client.History())
	if err != nil {
		release()
		return s.sendError(client, err.Error())
	}
	client.setActiveRun(stream.RunID())

	s.inFlightReqs.Add(1)
	go s.pumpEvents(client, question, stream, release)
	return true
}

// pumpEvents forwards a run's events to the client and records the turn
// once it completes.
func (s *Server) pumpEvents(client *Client, question string, stream *agent.Stream, release func()) {
	defer s.inFlightReqs.Done()
	defer release()

	for ev := range stream.Events() {
		if err := client.WriteFrame(Frame{Type: "event", Event: &ev}); err != nil {
			stream.Close()
			break
		}
	}

	res := stream.Result()
	if res.Status == agent.StatusCompleted {
		client.appendTurn(question, res.Answer)
	}
	client.setActiveRun("")

	s.logger.Debug().
		Str("clientId", client.ID).
		Str("run_id", res.RunID).
		Str("status", string(res.Status)).
		Msg("Conversation run finished")
}

func (s *Server) sendError(client *Client, message string) bool {
	if err := client.WriteFrame(Frame{Type: "error", Message: message}); err != nil {
		s.logger.Debug().Err(err).Str("clientId", client.ID).Msg("Failed to send error frame")
		return false
	}
	return true
}
