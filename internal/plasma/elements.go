package plasma

import (
	"fmt"
	"strings"
)

// ElementTable maps element symbols to atomic numbers.
type ElementTable map[string]int

// DefaultElements covers H through Ni, the range of the eigen tables.
var DefaultElements = ElementTable{
	"H": 1, "He": 2,
	"Li": 3, "Be": 4, "B": 5, "C": 6, "N": 7, "O": 8, "F": 9, "Ne": 10,
	"Na": 11, "Mg": 12, "Al": 13, "Si": 14, "P": 15, "S": 16, "Cl": 17, "Ar": 18,
	"K": 19, "Ca": 20, "Sc": 21, "Ti": 22, "V": 23, "Cr": 24, "Mn": 25, "Fe": 26, "Co": 27, "Ni": 28,
}

// AtomicNumber looks up a symbol, accepting any letter case.
func (t ElementTable) AtomicNumber(symbol string) (int, error) {
	if z, ok := t[symbol]; ok {
		return z, nil
	}
	for sym, z := range t {
		if strings.EqualFold(sym, symbol) {
			return z, nil
		}
	}
	return 0, fmt.Errorf("unknown element symbol %q", symbol)
}

// NumStates is the number of charge states of the element, Z+1.
func (t ElementTable) NumStates(symbol string) (int, error) {
	z, err := t.AtomicNumber(symbol)
	if err != nil {
		return 0, err
	}
	return z + 1, nil
}
