package services

import (
	"bytes"
	"fmt"
	"time"

	"github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"

	"github.com/aria-access/aria_api/dto"
	"github.com/aria-access/aria_api/shared"
)

// SpeechService synthesizes text to audio and hands back a presigned URL.
// Audio bytes are stored once and never streamed through this process twice.
type SpeechService struct {
	context.DefaultService

	llmSvc   *LLMService
	minioSvc *MinIOService
}

const SPEECH_SVC = "speech_svc"

const speechURLExpiry = 15 * time.Minute

func (svc SpeechService) Id() string {
	return SPEECH_SVC
}

func (svc *SpeechService) Start() error {
	svc.llmSvc = svc.Service(LLM_SVC).(*LLMService)
	svc.minioSvc = svc.Service(MINIO_SVC).(*MinIOService)
	return nil
}

func (svc *SpeechService) Synthesize(req *dto.SpeechRequest) (*dto.SpeechResponse, error) {
	audio, err := svc.llmSvc.Synthesize(req.Text, req.Voice)
	if err != nil {
		return nil, err
	}

	objectName := fmt.Sprintf("speech/%s.mp3", newID())
	if _, err := svc.minioSvc.UploadFile(objectName, bytes.NewReader(audio), int64(len(audio)), "audio/mpeg"); err != nil {
		log.WithFields(log.Fields{"object": objectName, "error": err.Error()}).Error("Audio upload failed")
		return nil, shared.NewInternalError(err, "Failed to store synthesized audio.")
	}

	url, err := svc.minioSvc.GetFileURL(objectName, speechURLExpiry)
	if err != nil {
		log.WithFields(log.Fields{"object": objectName, "error": err.Error()}).Error("Presign failed")
		return nil, shared.NewInternalError(err, "Failed to publish synthesized audio.")
	}

	return &dto.SpeechResponse{AudioURL: url}, nil
}
