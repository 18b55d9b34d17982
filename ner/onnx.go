package ner

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/daulet/tokenizers"
	onnxruntime "github.com/yalue/onnxruntime_go"

	"github.com/hannes/textanon/anonymize"
)

const (
	// maxSequenceLength matches the model's max_position_embeddings.
	maxSequenceLength = 512
	// minTagConfidence is the softmax floor below which a token is demoted
	// to "O" rather than trusted as an entity tag.
	minTagConfidence = 0.5
)

// ONNXProvider runs a local token-classification model through ONNX Runtime
// and emits BIO-tagged tokens with character offsets over the input text.
type ONNXProvider struct {
	mu           sync.Mutex
	tokenizer    *tokenizers.Tokenizer
	session      *onnxruntime.AdvancedSession
	inputTensor  *onnxruntime.Tensor[int64]
	maskTensor   *onnxruntime.Tensor[int64]
	outputTensor *onnxruntime.Tensor[float32]
	id2label     map[string]string
	numLabels    int
	modelPath    string
}

// NewONNXProvider loads the tokenizer and label mapping for the model at
// modelPath. The inference session itself is created lazily on the first
// Recognize call.
func NewONNXProvider(modelPath, tokenizerPath, labelMapPath string) (*ONNXProvider, error) {
	resolveSharedLibrary()

	if !onnxruntime.IsInitialized() {
		if err := onnxruntime.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX Runtime environment: %w", err)
		}
	}

	tk, err := tokenizers.FromFile(tokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	id2label, err := loadLabelMap(labelMapPath)
	if err != nil {
		if closeErr := tk.Close(); closeErr != nil {
			fmt.Printf("Warning: failed to close tokenizer during cleanup: %v\n", closeErr)
		}
		return nil, err
	}

	numLabels := 0
	for idStr := range id2label {
		var id int
		if _, err := fmt.Sscanf(idStr, "%d", &id); err == nil && id >= numLabels {
			numLabels = id + 1
		}
	}
	if numLabels == 0 {
		numLabels = len(id2label)
	}

	return &ONNXProvider{
		tokenizer: tk,
		id2label:  id2label,
		numLabels: numLabels,
		modelPath: modelPath,
	}, nil
}

// resolveSharedLibrary points ONNX Runtime at the shared library. The
// environment variable wins; otherwise a handful of known install locations
// are probed.
func resolveSharedLibrary() {
	libPath := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")

	if libPath == "" {
		candidates := []string{
			"./libonnxruntime.so",
			"./build/libonnxruntime.so",
			"./libonnxruntime.1.23.1.dylib",
			"./build/libonnxruntime.1.23.1.dylib",
			"../libonnxruntime.1.23.1.dylib",
		}
		for _, path := range candidates {
			if _, err := os.Stat(path); err == nil {
				libPath = path
				break
			}
		}
	}

	if libPath != "" {
		onnxruntime.SetSharedLibraryPath(libPath)
	}
}

// loadLabelMap reads the id->label mapping the model was exported with.
func loadLabelMap(path string) (map[string]string, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from validated model directory
	if err != nil {
		return nil, fmt.Errorf("failed to load label mapping %s: %w", path, err)
	}

	var mapping struct {
		ID2Label map[string]string `json:"id2label"`
	}
	if err := json.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("failed to parse label mapping %s: %w", path, err)
	}
	if len(mapping.ID2Label) == 0 {
		return nil, fmt.Errorf("label mapping %s contains no labels", path)
	}
	return mapping.ID2Label, nil
}

// Name implements Provider.
func (p *ONNXProvider) Name() string {
	return "onnx"
}

// Recognize tokenizes text, runs one inference pass and returns the
// BIO-tagged tokens. The session and tensors are reused across calls; a
// mutex serializes access to them.
func (p *ONNXProvider) Recognize(ctx context.Context, text string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session == nil {
		if err := p.initializeSession(); err != nil {
			return Result{}, fmt.Errorf("failed to initialize session: %w", err)
		}
	}

	encoding := p.tokenizer.EncodeWithOptions(text, true, tokenizers.WithReturnOffsets())
	tokenIDs := encoding.IDs
	if len(tokenIDs) > maxSequenceLength {
		tokenIDs = tokenIDs[:maxSequenceLength]
	}

	inputData := p.inputTensor.GetData()
	maskData := p.maskTensor.GetData()
	for i := range inputData {
		inputData[i] = 0
		maskData[i] = 0
	}
	for i, id := range tokenIDs {
		inputData[i] = int64(id)
		maskData[i] = 1
	}

	if err := p.session.Run(); err != nil {
		return Result{}, fmt.Errorf("failed to run inference: %w", err)
	}

	return Result{Tokens: p.decodeTokens(text, tokenIDs, encoding.Offsets)}, nil
}

// decodeTokens converts per-token logits into BIO-tagged tokens. Special
// tokens (zero-width offsets) are dropped; low-confidence predictions are
// demoted to "O".
func (p *ONNXProvider) decodeTokens(text string, tokenIDs []uint32, offsets []tokenizers.Offset) []anonymize.Token {
	outputData := p.outputTensor.GetData()

	numTokens := len(tokenIDs)
	if len(offsets) < numTokens {
		numTokens = len(offsets)
	}

	out := make([]anonymize.Token, 0, numTokens)
	for i := 0; i < numTokens; i++ {
		startIdx := i * p.numLabels
		endIdx := (i + 1) * p.numLabels
		if endIdx > len(outputData) {
			break
		}
		logits := outputData[startIdx:endIdx]

		maxLogit := float64(-math.MaxFloat64)
		bestClass := 0
		for j, logit := range logits {
			if float64(logit) > maxLogit {
				maxLogit = float64(logit)
				bestClass = j
			}
		}

		label, ok := p.id2label[fmt.Sprintf("%d", bestClass)]
		if !ok {
			label = "O"
		}

		// Softmax over the logits for a calibrated confidence.
		var sum float64
		for _, logit := range logits {
			sum += math.Exp(float64(logit))
		}
		if math.Exp(maxLogit)/sum < minTagConfidence {
			label = "O"
		}

		start := safeUintToInt(offsets[i][0])
		end := safeUintToInt(offsets[i][1])
		if start >= end || end > len(text) {
			// CLS/SEP and other special tokens carry no text.
			continue
		}

		out = append(out, anonymize.Token{
			Text:  text[start:end],
			Start: start,
			End:   end,
			Tag:   label,
		})
	}
	return out
}

// initializeSession creates the inference session and its reusable tensors.
// Called under p.mu.
func (p *ONNXProvider) initializeSession() error {
	batchSize := int64(1)
	seqLen := int64(maxSequenceLength)

	inputShape := onnxruntime.NewShape(batchSize, seqLen)
	inputTensor, err := onnxruntime.NewTensor(inputShape, make([]int64, seqLen))
	if err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}

	maskTensor, err := onnxruntime.NewTensor(inputShape, make([]int64, seqLen))
	if err != nil {
		destroyAll(inputTensor)
		return fmt.Errorf("failed to create mask tensor: %w", err)
	}

	outputShape := onnxruntime.NewShape(batchSize, seqLen, int64(p.numLabels))
	outputTensor, err := onnxruntime.NewEmptyTensor[float32](outputShape)
	if err != nil {
		destroyAll(inputTensor, maskTensor)
		return fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := onnxruntime.NewAdvancedSession(p.modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"logits"},
		[]onnxruntime.Value{inputTensor, maskTensor},
		[]onnxruntime.Value{outputTensor},
		nil)
	if err != nil {
		destroyAll(inputTensor, maskTensor, outputTensor)
		return fmt.Errorf("failed to create session: %w", err)
	}

	p.session = session
	p.inputTensor = inputTensor
	p.maskTensor = maskTensor
	p.outputTensor = outputTensor
	return nil
}

// Close implements Provider.
func (p *ONNXProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.session != nil {
		if err := p.session.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy session: %w", err))
		}
		p.session = nil
	}
	for _, v := range []onnxruntime.Value{p.inputTensor, p.maskTensor, p.outputTensor} {
		if v == nil {
			continue
		}
		if err := v.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy tensor: %w", err))
		}
	}
	p.inputTensor, p.maskTensor, p.outputTensor = nil, nil, nil
	if p.tokenizer != nil {
		if err := p.tokenizer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close tokenizer: %w", err))
		}
		p.tokenizer = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}

func destroyAll(values ...onnxruntime.Value) {
	for _, v := range values {
		if err := v.Destroy(); err != nil {
			fmt.Printf("Warning: failed to destroy value during cleanup: %v\n", err)
		}
	}
}

// safeUintToInt converts a uint to int with bounds checking.
func safeUintToInt(val uint) int {
	const maxInt = int(^uint(0) >> 1)
	if val <= uint(maxInt) {
		// #nosec G115 - Safe conversion with bounds checking
		return int(val)
	}
	return maxInt
}
