package prediction

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/thatsimonsguy/smart-lamp/internal/model"
)

// Classifier is the pluggable model behind the Engine.
type Classifier interface {
	Train(records []model.InteractionRecord) error
	Predict(f Features) (model.PredictionResult, error)
}

var ErrNotTrained = errors.New("classifier not trained")

// MinTrainingRecords is the floor below which PatternClassifier refuses to train.
const MinTrainingRecords = 10

type colorClass int

const (
	classRed colorClass = iota
	classGreen
	classBlue
	classWhite
)

var classColors = map[colorClass]model.Color{
	classRed:   {R: 255, G: 100, B: 100},
	classGreen: {R: 100, G: 255, B: 100},
	classBlue:  {R: 100, G: 100, B: 255},
	classWhite: model.White,
}

// classify buckets a color by its dominant channel; ties count as white.
func classify(c model.Color) colorClass {
	switch {
	case c.R > c.G && c.R > c.B:
		return classRed
	case c.G > c.R && c.G > c.B:
		return classGreen
	case c.B > c.R && c.B > c.G:
		return classBlue
	}
	return classWhite
}

// ClassColor maps c onto the palette color the classifier can predict.
func ClassColor(c model.Color) model.Color {
	return classColors[classify(c)]
}

type sample struct {
	features Features
	on       bool
	color    colorClass
}

// PatternClassifier is a Gaussian-kernel vote over past interactions.
type PatternClassifier struct {
	// Bandwidth of the kernel in feature space.
	Bandwidth float64

	mu      sync.RWMutex
	samples []sample
}

func NewPatternClassifier() *PatternClassifier {
	return &PatternClassifier{Bandwidth: 0.5}
}

func (p *PatternClassifier) Train(records []model.InteractionRecord) error {
	if len(records) < MinTrainingRecords {
		return fmt.Errorf("need at least %d interactions, have %d", MinTrainingRecords, len(records))
	}

	samples := make([]sample, 0, len(records))
	var on, off int
	for _, r := range records {
		if r.IsOn {
			on++
		} else {
			off++
		}
		samples = append(samples, sample{features: encodeRecord(r), on: r.IsOn, color: classify(r.Color)})
	}
	if on == 0 || off == 0 {
		return fmt.Errorf("interactions only cover one power state (on=%d off=%d)", on, off)
	}

	p.mu.Lock()
	p.samples = samples
	p.mu.Unlock()
	return nil
}

func (p *PatternClassifier) Predict(f Features) (model.PredictionResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.samples) == 0 {
		return model.PredictionResult{}, ErrNotTrained
	}

	bw := p.Bandwidth
	if bw <= 0 {
		bw = 0.5
	}

	var onW, offW float64
	var colorW [4]float64
	for _, s := range p.samples {
		w := math.Exp(-distance2(f, s.features) / (2 * bw * bw))
		if s.on {
			onW += w
			colorW[s.color] += w
		} else {
			offW += w
		}
	}

	res := model.PredictionResult{PredictedColor: model.White}
	if total := onW + offW; total > 0 {
		res.ShouldBeOn = onW > offW
		res.PowerConfidence = math.Max(onW, offW) / total
	}

	var best colorClass
	var colorTotal float64
	for c, w := range colorW {
		colorTotal += w
		if w > colorW[best] {
			best = colorClass(c)
		}
	}
	if colorTotal > 0 {
		res.PredictedColor = classColors[best]
		res.ColorConfidence = colorW[best] / colorTotal
	}
	return res, nil
}
