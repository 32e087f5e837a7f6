package detect

import (
	"fmt"
	"strings"
)

// COCO is the class table of the stock YOLOv8 models.
var COCO = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog",
	"horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella",
	"handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite",
	"baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket", "bottle",
	"wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple", "sandwich", "orange",
	"broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch", "potted plant",
	"bed", "dining table", "toilet", "tv", "laptop", "mouse", "remote", "keyboard", "cell phone",
	"microwave", "oven", "toaster", "sink", "refrigerator", "book", "clock", "vase", "scissors",
	"teddy bear", "hair drier", "toothbrush",
}

// Labels translates class indices to names, with an optional relabel map
// applied on top (matched case-insensitively on the source name).
type Labels struct {
	names   []string
	relabel map[string]string
}

// NewLabels creates a label table. A nil names slice uses COCO.
func NewLabels(names []string, relabel map[string]string) *Labels {
	if names == nil {
		names = COCO
	}
	l := &Labels{
		names:   names,
		relabel: make(map[string]string, len(relabel)),
	}
	for from, to := range relabel {
		l.relabel[strings.ToUpper(from)] = to
	}
	return l
}

// Name returns the label for a class index
func (l *Labels) Name(class int) string {
	name := fmt.Sprintf("class_%d", class)
	if class >= 0 && class < len(l.names) {
		name = l.names[class]
	}
	if to, ok := l.relabel[strings.ToUpper(name)]; ok {
		return to
	}
	return name
}

// ParseRelabel parses "from=to,from=to" into a map. Blank entries are skipped.
func ParseRelabel(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		from, to, ok := strings.Cut(pair, "=")
		from, to = strings.TrimSpace(from), strings.TrimSpace(to)
		if !ok || from == "" || to == "" {
			return nil, fmt.Errorf("invalid relabel entry %q", pair)
		}
		out[from] = to
	}
	return out, nil
}
