package x402

import "testing"

func TestDecimalToUnits(t *testing.T) {
	cases := []struct {
		value    string
		decimals int
		want     string
	}{
		{"4.02", 6, "4020000"},
		{"0.10", 6, "100000"},
		{"0.1", 6, "100000"},
		{"1", 6, "1000000"},
		{"0", 6, "0"},
		{"0.000001", 6, "1"},
		{"12.5", 2, "1250"},
		{"3", 0, "3"},
		{".5", 6, "500000"},
		{"0.1000000", 6, "100000"},
	}
	for _, tc := range cases {
		got, err := DecimalToUnits(tc.value, tc.decimals)
		if err != nil {
			t.Errorf("DecimalToUnits(%q, %d): %v", tc.value, tc.decimals, err)
			continue
		}
		if got != tc.want {
			t.Errorf("DecimalToUnits(%q, %d) = %q, want %q", tc.value, tc.decimals, got, tc.want)
		}
	}
}

func TestDecimalToUnitsRejects(t *testing.T) {
	for _, value := range []string{"", "-1", "1.2.3", "abc", "1,5", "0.0000015"} {
		if _, err := DecimalToUnits(value, 6); err == nil {
			t.Errorf("DecimalToUnits(%q, 6): want error", value)
		}
	}
}

func TestUnitsToDecimal(t *testing.T) {
	cases := []struct {
		units    string
		decimals int
		want     string
	}{
		{"4020000", 6, "4.02"},
		{"100000", 6, "0.1"},
		{"1", 6, "0.000001"},
		{"0", 6, "0"},
		{"1000000", 6, "1"},
		{"1250", 2, "12.5"},
		{"3", 0, "3"},
	}
	for _, tc := range cases {
		got, err := UnitsToDecimal(tc.units, tc.decimals)
		if err != nil {
			t.Errorf("UnitsToDecimal(%q, %d): %v", tc.units, tc.decimals, err)
			continue
		}
		if got != tc.want {
			t.Errorf("UnitsToDecimal(%q, %d) = %q, want %q", tc.units, tc.decimals, got, tc.want)
		}
	}
}

func TestValidUnits(t *testing.T) {
	for units, want := range map[string]bool{
		"0":       true,
		"1":       true,
		"4020000": true,
		"":        false,
		"01":      false,
		"-5":      false,
		"1.5":     false,
	} {
		if got := ValidUnits(units); got != want {
			t.Errorf("ValidUnits(%q) = %v, want %v", units, got, want)
		}
	}
}

func TestCompareUnits(t *testing.T) {
	cmp, err := CompareUnits("99999999999999999999999999", "100000000000000000000000000")
	if err != nil {
		t.Fatal(err)
	}
	if cmp != -1 {
		t.Errorf("CompareUnits = %d, want -1", cmp)
	}
}

func TestNormalizePrice(t *testing.T) {
	cases := []struct {
		price Price
		want  string
	}{
		{"$4.02", "4.02"},
		{"$0.10", "0.10"},
		{"2500", "2500"},
		{"1.5 USD", "1.5"},
		{"1.5 USDC", "1.5"},
		{3, "3"},
		{int64(7), "7"},
		{0.1, "0.1"},
	}
	for _, tc := range cases {
		got, amount, err := NormalizePrice(tc.price)
		if err != nil {
			t.Errorf("NormalizePrice(%v): %v", tc.price, err)
			continue
		}
		if amount != nil {
			t.Errorf("NormalizePrice(%v): unexpected asset amount", tc.price)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizePrice(%v) = %q, want %q", tc.price, got, tc.want)
		}
	}
}

func TestNormalizePriceAssetAmount(t *testing.T) {
	_, amount, err := NormalizePrice(AssetAmount{Amount: "5000", Asset: "0xUSDC"})
	if err != nil {
		t.Fatal(err)
	}
	if amount == nil || amount.Amount != "5000" || amount.Asset != "0xUSDC" {
		t.Errorf("NormalizePrice(AssetAmount) = %+v", amount)
	}
}

func TestNormalizePriceRejects(t *testing.T) {
	for _, price := range []Price{nil, -1, "$", AssetAmount{Amount: "01"}, struct{}{}} {
		if _, _, err := NormalizePrice(price); err == nil {
			t.Errorf("NormalizePrice(%v): want error", price)
		}
	}
}
