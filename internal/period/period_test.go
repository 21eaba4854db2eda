package period

import "testing"

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		fileName string
		want     Info
	}{
		{
			name: "month name with year",
			text: "Balanço Patrimonial de Março de 2024",
			want: Info{Period: "2024-03", Year: 2024, Month: 3},
		},
		{
			name: "quarter wins over month",
			text: "DRE referente ao 1º trimestre de 2024, encerrado em março",
			want: Info{Period: "2024-Q1", Year: 2024, Month: 3, Quarter: 1},
		},
		{
			name:     "period from filename",
			fileName: "DRE_2024_Q1.pdf",
			text:     "demonstração do resultado do exercício",
			want:     Info{Period: "2024-Q1", Year: 2024, Quarter: 1},
		},
		{
			name: "year only",
			text: "Exercício social de 2023",
			want: Info{Period: "2023", Year: 2023},
		},
		{
			name: "numeric month before year",
			text: "competência 03/2025",
			want: Info{Period: "2025-03", Year: 2025, Month: 3},
		},
		{
			name: "numeric month after year",
			text: "competência 2025-11",
			want: Info{Period: "2025-11", Year: 2025, Month: 11},
		},
		{
			name: "no year means no period",
			text: "balancete de março sem exercício",
			want: Info{Month: 3},
		},
		{
			name: "year outside accepted window ignored",
			text: "fundada em 1998",
			want: Info{},
		},
		{
			name: "month list order breaks ties",
			text: "valores de dezembro comparados a janeiro de 2024",
			want: Info{Period: "2024-01", Year: 2024, Month: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.text, tt.fileName)
			if got != tt.want {
				t.Fatalf("Extract() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestIsValid(t *testing.T) {
	valid := []string{"2024", "2024-01", "2024-12", "2024-Q1", "2024-Q4"}
	for _, s := range valid {
		if !IsValid(s) {
			t.Errorf("IsValid(%q) = false, want true", s)
		}
	}
	invalid := []string{"", "24", "2024-13", "2024-00", "2024-Q5", "2024-q1", "2024-1", "março"}
	for _, s := range invalid {
		if IsValid(s) {
			t.Errorf("IsValid(%q) = true, want false", s)
		}
	}
}

func TestDateRange(t *testing.T) {
	// Every valid period yields a non-empty range with start <= end.
	for _, s := range []string{"2024", "2024-02", "2024-12", "2024-Q1", "2024-Q4"} {
		start, end, ok := DateRange(s)
		if !ok {
			t.Fatalf("DateRange(%q) not ok", s)
		}
		if start.After(end) {
			t.Fatalf("DateRange(%q): start %v after end %v", s, start, end)
		}
	}

	start, end, ok := DateRange("2024-Q2")
	if !ok {
		t.Fatal("DateRange(2024-Q2) not ok")
	}
	if start.Month() != 4 || start.Day() != 1 {
		t.Fatalf("quarter start = %v", start)
	}
	if end.Month() != 6 || end.Day() != 30 {
		t.Fatalf("quarter end = %v", end)
	}

	if _, _, ok := DateRange("not-a-period"); ok {
		t.Fatal("DateRange accepted invalid input")
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"2024", "2024-Q1", -1},
		{"2024-01", "2024-02", -1},
		{"2023", "2024", -1},
		{"2024-Q2", "2024-Q1", 1},
		{"2024-03", "2024-03", 0},
		{"garbage", "2024", 0},
		{"2024", "garbage", 0},
	}
	for _, tt := range tests {
		got := Compare(tt.a, tt.b)
		switch {
		case tt.want < 0 && got >= 0,
			tt.want > 0 && got <= 0,
			tt.want == 0 && got != 0:
			t.Errorf("Compare(%q, %q) = %d, want sign %d", tt.a, tt.b, got, tt.want)
		}
	}
}
