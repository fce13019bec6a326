package flip

import "github.com/pkg/errors"

// Mask returns the row-major rows × cols mask that selects exactly the
// sink-rows × source-columns block. Indices must be in range and unique.
func Mask(rows, cols int, source, sink []int) ([]bool, error) {
	if err := checkIndices(source, cols, "source"); err != nil {
		return nil, err
	}
	if err := checkIndices(sink, rows, "sink"); err != nil {
		return nil, err
	}

	retVal := make([]bool, rows*cols)
	for _, r := range sink {
		row := retVal[r*cols : (r+1)*cols]
		for _, c := range source {
			row[c] = true
		}
	}
	return retVal, nil
}

func checkIndices(idx []int, size int, which string) error {
	seen := make(map[int]struct{}, len(idx))
	for _, i := range idx {
		if i < 0 || i >= size {
			return errors.Errorf("%s index %d out of range [0, %d)", which, i, size)
		}
		if _, ok := seen[i]; ok {
			return errors.Errorf("duplicate %s index %d", which, i)
		}
		seen[i] = struct{}{}
	}
	return nil
}
