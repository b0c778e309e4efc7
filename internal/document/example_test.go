package document_test

import (
	"fmt"
	"time"

	"nfcom/internal/document"
)

func ExampleAccessKey() {
	key, err := document.AccessKey(document.KeyFields{
		StateCode:    43,
		IssuedAt:     time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC),
		CNPJ:         "11222333000181",
		Series:       1,
		Number:       123,
		EmissionType: document.EmissionNormal,
		NumericCode:  "1234567",
	})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(key)
	fmt.Println(document.ValidAccessKey(key))
	// Output:
	// 43250311222333000181620010000001231012345673
	// true
}
