package twiliovoice

import (
	"fmt"

	"github.com/medtriage/MedTriage/internal/models"
	"github.com/twilio/twilio-go/twiml"
)

// Defaults for spoken output and speech capture.
const (
	DefaultVoice         = "alice"
	DefaultLanguage      = "en-US"
	DefaultGatherTimeout = "10"
	DefaultGatherPath    = "/voice/gather"
)

const (
	anythingElsePrompt = "Is there anything else I can help you with today?"
	noInputMessage     = "I didn't hear anything. Let me try again."
	goodbyeMessage     = "Goodbye."
)

// Renderer turns turn responses into TwiML documents.
type Renderer struct {
	voice      string
	language   string
	gatherURL  string
	timeoutSec string
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithVoice sets the text-to-speech voice.
func WithVoice(voice string) RendererOption {
	return func(r *Renderer) { r.voice = voice }
}

// WithLanguage sets the speech recognition and synthesis language.
func WithLanguage(lang string) RendererOption {
	return func(r *Renderer) { r.language = lang }
}

// WithGatherURL sets where Twilio posts recognized speech.
func WithGatherURL(url string) RendererOption {
	return func(r *Renderer) { r.gatherURL = url }
}

// NewRenderer creates a renderer with the package defaults.
func NewRenderer(opts ...RendererOption) *Renderer {
	r := &Renderer{
		voice:      DefaultVoice,
		language:   DefaultLanguage,
		gatherURL:  DefaultGatherPath,
		timeoutSec: DefaultGatherTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Greeting speaks msg and listens for the caller's first answer.
func (r *Renderer) Greeting(msg string) (string, error) {
	return r.gather(msg, "")
}

// Render maps a turn response to TwiML by action.
func (r *Renderer) Render(resp models.TurnResponse) (string, error) {
	msg := resp.Envelope().Message
	switch resp.(type) {
	case models.EmergencyAction:
		return r.sayAndHangUp(msg)
	case models.ProvideRecommendation:
		return r.gather(msg, anythingElsePrompt)
	case models.EndCall:
		return r.sayAndHangUp(msg, goodbyeMessage)
	case models.GatherInput:
		return r.gather(msg, "")
	default:
		return "", fmt.Errorf("unsupported turn response %T", resp)
	}
}

// Hangup speaks msg and ends the call.
func (r *Renderer) Hangup(msg string) (string, error) {
	return r.sayAndHangUp(msg)
}

func (r *Renderer) say(msg string) *twiml.VoiceSay {
	return &twiml.VoiceSay{Message: msg, Voice: r.voice, Language: r.language}
}

// gather speaks msg and then prompt inside a speech gather. When the caller
// stays silent the call is redirected back to the gather endpoint.
func (r *Renderer) gather(msg, prompt string) (string, error) {
	var inner []twiml.Element
	if prompt != "" {
		inner = append(inner, r.say(prompt))
	}
	verbs := []twiml.Element{
		r.say(msg),
		&twiml.VoiceGather{
			Input:         "speech",
			Action:        r.gatherURL,
			Method:        "POST",
			Timeout:       r.timeoutSec,
			SpeechTimeout: "auto",
			Language:      r.language,
			InnerElements: inner,
		},
		r.say(noInputMessage),
		&twiml.VoiceRedirect{Url: r.gatherURL, Method: "POST"},
	}
	return twiml.Voice(verbs)
}

func (r *Renderer) sayAndHangUp(msgs ...string) (string, error) {
	var verbs []twiml.Element
	for _, m := range msgs {
		if m != "" {
			verbs = append(verbs, r.say(m))
		}
	}
	verbs = append(verbs, &twiml.VoiceHangup{})
	return twiml.Voice(verbs)
}
