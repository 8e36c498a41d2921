package intent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/genai"
)

// systemInstruction turns the model into the salvage assistant with
// strict JSON-only output.
const systemInstruction = `You are the **Wasteland Salvage Assistant**, the cognitive core of an ` +
	`autonomous salvage robot. Your job is to interpret a human operator's ` +
	`spoken command and extract the target object they want to grab.

## RULES (follow these EXACTLY)

1. You will receive:
   - A text transcription of the operator's voice command.
   - A VISIBLE_OBJECTS list: objects the robot's cameras currently see.

2. BE LENIENT - Accept ANY command that expresses intent to grab/pick something:
   - 'pick the nut', 'grab skull', 'get the gear', 'take heart' = VALID
   - 'I want the hotdog', 'give me the skull', 'that one' = VALID (pick any visible)
   - Even partial matches: 'pick it', 'grab that' = VALID (pick first visible object)

3. A target is INVALID ONLY if:
   - The text is completely empty or unintelligible nonsense, OR
   - The operator explicitly says 'no', 'stop', 'cancel', 'nevermind'

4. If the operator names an object not in VISIBLE_OBJECTS but expresses grab intent,
   pick the FIRST object from VISIBLE_OBJECTS instead and set valid=true.

5. OUTPUT FORMAT - respond with **raw JSON only**. No markdown, no extra text:

   {"valid": <bool>, "target": "<string or null>", "reason": "<string>"}

   - If valid is true: target = object name (lowercase from VISIBLE_OBJECTS)
     reason = short confirmation (e.g. "Target acquired: heart")
   - If valid is false: target = null
     reason = why (e.g. "No grab intent detected")

6. Be helpful - when in doubt, say YES and pick a visible target.`

// GeminiConfig configures the Gemini evaluator.
type GeminiConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Gemini evaluates operator intent with the Gemini API.
type Gemini struct {
	client *genai.Client
	cfg    GeminiConfig
}

// NewGemini creates the production evaluator. Returns ErrNoEvaluator
// when no API key is configured so callers can degrade instead of
// issuing doomed requests.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoEvaluator
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client, cfg: cfg}, nil
}

// Evaluate sends the transcript and visible-object context to Gemini and
// parses the JSON decision. Rate-limit and unavailability errors come
// back as transient; schema problems are permanent.
func (g *Gemini) Evaluate(ctx context.Context, command string, visible []string) (Decision, error) {
	labels, err := json.Marshal(visible)
	if err != nil {
		return Decision{}, fmt.Errorf("marshal labels: %w", err)
	}

	prompt := fmt.Sprintf("VISIBLE_OBJECTS: %s\nEvaluate the following operator command:\n\nOperator said: %q",
		labels, command)

	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
			MaxOutputTokens:   int32(g.cfg.MaxTokens),
			Temperature:       genai.Ptr(float32(g.cfg.Temperature)),
			ResponseMIMEType:  "application/json",
		})
	if err != nil {
		return Decision{}, classify(err)
	}

	raw := resp.Text()
	if raw == "" {
		return Decision{}, fmt.Errorf("%w: empty response", ErrBadResponse)
	}
	return ParseDecision(raw)
}

// classify marks rate-limit and unavailability responses as transient;
// everything else is a permanent failure.
func classify(err error) error {
	if ae, ok := apierror.ParseError(err, false); ok {
		if code := ae.HTTPCode(); code == 429 || code == 503 {
			return &TransientError{Code: code, Err: err}
		}
	}
	return fmt.Errorf("evaluate: %w", err)
}
