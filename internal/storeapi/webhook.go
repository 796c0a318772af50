package storeapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/Matthieu5555/IsoCrates-sub000/internal/logfields"
)

const maxWebhookBody = 1 << 20 // 1 MiB

type pushPayload struct {
	Repository struct {
		CloneURL string `json:"clone_url"`
	} `json:"repository"`
	HeadCommit struct {
		ID string `json:"id"`
	} `json:"head_commit"`
}

// handleGitHubWebhook enqueues a regeneration job for push events. The
// signature is verified when a secret is configured; without one, every
// request is accepted.
func (s *Server) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "job queue not available")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	if s.webhookSecret != "" {
		if !verifySignature(body, r.Header.Get("X-Hub-Signature-256"), s.webhookSecret) {
			writeError(w, http.StatusUnauthorized, "signature verification failed")
			return
		}
	}

	if event := r.Header.Get("X-GitHub-Event"); event != "push" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "event": event})
		return
	}

	var payload pushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}
	if payload.Repository.CloneURL == "" {
		writeError(w, http.StatusBadRequest, "payload missing repository.clone_url")
		return
	}

	job, err := s.queue.Enqueue(r.Context(), payload.Repository.CloneURL, payload.HeadCommit.ID)
	if err != nil {
		slog.Error("webhook enqueue failed", logfields.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	slog.Info("webhook job enqueued",
		logfields.JobID(job.ID),
		logfields.Repo(job.RepoURL),
		logfields.Commit(job.CommitSHA))
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// verifySignature checks the GitHub HMAC-SHA256 header
// ("sha256=<hex digest>") in constant time.
func verifySignature(body []byte, header, secret string) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header[len(prefix):]))
}
