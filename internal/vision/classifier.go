package vision

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"os"
	"sort"
	"strings"
	"sync"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ImageNet normalization constants, matching the MobileNetV2 training setup.
var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

const (
	inputWidth  = 224
	inputHeight = 224
)

// LabelScore is one classification result: a class label and its raw logit.
type LabelScore struct {
	Label string  `json:"label"`
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// Classifier runs MobileNetV2 ONNX inference over uploaded images.
// The runtime, model, and labels load lazily on first use so the server
// can start on hosts without the onnxruntime shared library installed.
type Classifier struct {
	mu sync.Mutex

	modelPath  string
	labelsPath string
	libPath    string
	topK       int

	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	labels  []string
	inited  bool
}

func NewClassifier(modelPath, labelsPath, onnxLibPath string, topK int) *Classifier {
	if topK <= 0 {
		topK = 5
	}
	return &Classifier{
		modelPath:  modelPath,
		labelsPath: labelsPath,
		libPath:    onnxLibPath,
		topK:       topK,
	}
}

// Classify decodes imageData (PNG, JPEG, GIF, or WebP), preprocesses it to
// the model's input tensor, runs inference, and returns the top-k labels.
func (c *Classifier) Classify(imageData []byte) ([]LabelScore, error) {
	if err := c.initOnce(); err != nil {
		return nil, err
	}

	img, err := decodeImage(imageData)
	if err != nil {
		return nil, fmt.Errorf("decode image failed: %w", err)
	}

	inputData := preprocess(img)

	// The session reuses one preallocated input tensor, so runs are serialized.
	c.mu.Lock()
	inData := c.input.GetData()
	if len(inData) < len(inputData) {
		c.mu.Unlock()
		return nil, fmt.Errorf("input tensor holds %d floats, preprocessed image needs %d", len(inData), len(inputData))
	}
	copy(inData, inputData)
	err = c.session.Run()
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("onnx run failed: %w", err)
	}
	outData := make([]float32, len(c.output.GetData()))
	copy(outData, c.output.GetData())
	c.mu.Unlock()

	return topScores(outData, c.labels, c.topK), nil
}

// initOnce loads the shared library, labels, and model session on first call.
func (c *Classifier) initOnce() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inited {
		return nil
	}

	if c.libPath != "" {
		ort.SetSharedLibraryPath(c.libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("onnx environment init failed: %w", err)
	}

	labels, err := loadLabels(c.labelsPath)
	if err != nil {
		return fmt.Errorf("load labels failed: %w", err)
	}
	c.labels = labels

	inputs, outputs, err := ort.GetInputOutputInfo(c.modelPath)
	if err != nil {
		return fmt.Errorf("read model info failed: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return fmt.Errorf("model %s declares no inputs or outputs", c.modelPath)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](inputs[0].Dimensions)
	if err != nil {
		return fmt.Errorf("allocate input tensor failed: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](outputs[0].Dimensions)
	if err != nil {
		inputTensor.Destroy()
		return fmt.Errorf("allocate output tensor failed: %w", err)
	}

	inputNames := make([]string, len(inputs))
	for i := range inputs {
		inputNames[i] = inputs[i].Name
	}
	outputNames := make([]string, len(outputs))
	for i := range outputs {
		outputNames[i] = outputs[i].Name
	}

	session, err := ort.NewAdvancedSession(c.modelPath, inputNames, outputNames,
		[]ort.Value{inputTensor}, []ort.Value{outputTensor}, nil)
	if err != nil {
		outputTensor.Destroy()
		inputTensor.Destroy()
		return fmt.Errorf("create onnx session failed: %w", err)
	}

	c.input = inputTensor
	c.output = outputTensor
	c.session = session
	c.inited = true
	return nil
}

func loadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var labels []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		labels = append(labels, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("labels file %s is empty", path)
	}
	return labels, nil
}

func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return img, nil
}

// preprocess scales img to 224x224 and lays it out as an NCHW float32
// tensor with ImageNet mean/std normalization.
func preprocess(img image.Image) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, inputWidth, inputHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	const plane = inputWidth * inputHeight
	out := make([]float32, 3*plane)
	for y := 0; y < inputHeight; y++ {
		for x := 0; x < inputWidth; x++ {
			idx := y*inputWidth + x
			px := dst.RGBAAt(x, y)
			r, g, b := float32(px.R)/255.0, float32(px.G)/255.0, float32(px.B)/255.0
			out[0*plane+idx] = (r - imagenetMean[0]) / imagenetStd[0]
			out[1*plane+idx] = (g - imagenetMean[1]) / imagenetStd[1]
			out[2*plane+idx] = (b - imagenetMean[2]) / imagenetStd[2]
		}
	}
	return out
}

// topScores ranks the raw output logits and keeps the k best, resolving
// each index against labels. Indexes past the label list keep an empty label.
func topScores(scores []float32, labels []string, k int) []LabelScore {
	if k > len(scores) {
		k = len(scores)
	}
	if k <= 0 {
		return nil
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return scores[order[i]] > scores[order[j]] })

	result := make([]LabelScore, 0, k)
	for _, idx := range order[:k] {
		label := ""
		if idx < len(labels) {
			label = labels[idx]
		}
		result = append(result, LabelScore{Label: label, Index: idx, Score: scores[idx]})
	}
	return result
}
