package dto

type SpeechRequest struct {
	Text  string `json:"text" validate:"required,max=2000"`
	Voice string `json:"voice,omitempty" validate:"omitempty,oneof=alloy echo fable onyx nova shimmer"`
}

func (r SpeechRequest) Validate() error {
	return GetValidator().Struct(r)
}

type SpeechResponse struct {
	AudioURL string `json:"audio_url"`
}
