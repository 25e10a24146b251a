package calibration

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// OpenCV FileStorage XML, as written by cv::FileStorage for a cv::Mat:
//
//	<?xml version="1.0"?>
//	<opencv_storage>
//	<Q type_id="opencv-matrix">
//	  <rows>4</rows>
//	  <cols>4</cols>
//	  <dt>d</dt>
//	  <data>
//	    1. 0. 0. -320. ...</data></Q>
//	</opencv_storage>

const cvMatrixType = "opencv-matrix"

type cvStorage struct {
	XMLName xml.Name   `xml:"opencv_storage"`
	Nodes   []cvMatrix `xml:",any"`
}

type cvMatrix struct {
	XMLName xml.Name
	TypeID  string `xml:"type_id,attr"`
	Rows    int    `xml:"rows"`
	Cols    int    `xml:"cols"`
	Dt      string `xml:"dt"`
	Data    string `xml:"data"`
}

// readCVMatrix decodes the matrix called name from r. Only single channel
// element types are accepted.
func readCVMatrix(r io.Reader, name string) (*mat.Dense, error) {
	var st cvStorage
	if err := xml.NewDecoder(r).Decode(&st); err != nil {
		return nil, fmt.Errorf("malformed OpenCV storage: %w", err)
	}

	var node *cvMatrix
	for i := range st.Nodes {
		if st.Nodes[i].XMLName.Local == name {
			node = &st.Nodes[i]
			break
		}
	}
	if node == nil {
		return nil, fmt.Errorf("no matrix named %q", name)
	}
	if node.TypeID != cvMatrixType {
		return nil, fmt.Errorf("%s has type %q, want %q", name, node.TypeID, cvMatrixType)
	}
	if !singleChannel(node.Dt) {
		return nil, fmt.Errorf("%s has unsupported element type %q", name, node.Dt)
	}
	if node.Rows <= 0 || node.Cols <= 0 {
		return nil, fmt.Errorf("%s has invalid shape %dx%d", name, node.Rows, node.Cols)
	}

	want := node.Rows * node.Cols
	values := make([]float64, 0, want)
	for _, tok := range strings.Fields(node.Data) {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: bad element %q: %w", name, tok, err)
		}
		values = append(values, v)
	}
	if len(values) != want {
		return nil, fmt.Errorf("%s: %dx%d needs %d elements, found %d", name, node.Rows, node.Cols, want, len(values))
	}
	return mat.NewDense(node.Rows, node.Cols, values), nil
}

func singleChannel(dt string) bool {
	switch dt {
	case "u", "c", "w", "s", "i", "f", "d":
		return true
	}
	return false
}

// writeCVMatrix encodes m as a double matrix called name.
func writeCVMatrix(w io.Writer, name string, m mat.Matrix) error {
	rows, cols := m.Dims()
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "<?xml version=\"1.0\"?>\n<opencv_storage>\n")
	fmt.Fprintf(bw, "<%s type_id=\"%s\">\n", name, cvMatrixType)
	fmt.Fprintf(bw, "  <rows>%d</rows>\n  <cols>%d</cols>\n  <dt>d</dt>\n  <data>", rows, cols)
	n := 0
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if n%4 == 0 {
				bw.WriteString("\n    ")
			} else {
				bw.WriteByte(' ')
			}
			bw.WriteString(strconv.FormatFloat(m.At(r, c), 'g', -1, 64))
			n++
		}
	}
	fmt.Fprintf(bw, "</data></%s>\n</opencv_storage>\n", name)

	return bw.Flush()
}
