package heuristic

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
)

func mustClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := New("")
	if err != nil {
		t.Fatalf("load embedded rules: %v", err)
	}
	return c
}

func TestClassifyOrder(t *testing.T) {
	c := mustClassifier(t)
	pdf := func(name string) domain.RawFile {
		return domain.RawFile{Name: name, MimeType: "application/pdf", Content: []byte("%PDF-1.4")}
	}
	img := func(name string, size int) domain.RawFile {
		return domain.RawFile{Name: name, MimeType: "image/jpeg", Content: make([]byte, size)}
	}

	cases := []struct {
		name     string
		file     domain.RawFile
		question string
		want     domain.Subtype
	}{
		{"filename wins over context", pdf("INE_Frente.pdf"), "¿Cuál es el folio real?", domain.SubtypeIdentification},
		{"accented filename", pdf("Identificación comprador.pdf"), "", domain.SubtypeIdentification},
		{"registry filename", pdf("Certificado de Libertad de Gravamen.pdf"), "", domain.SubtypePropertyRegistryExtract},
		{"marriage filename", pdf("acta_de_matrimonio.pdf"), "", domain.SubtypeMarriageCertificate},
		{"floor plan filename", pdf("plano-casa.pdf"), "", domain.SubtypeFloorPlan},
		{"deed filename", pdf("escritura antecedente.pdf"), "", domain.SubtypeDeed},
		{"spouse question during marital status", pdf("scan001.pdf"), "Indica tu estado civil y envía la identificación de tu cónyuge", domain.SubtypeIdentification},
		{"buyer name question", pdf("scan002.pdf"), "¿Cuál es el nombre del comprador?", domain.SubtypeIdentification},
		{"marital status alone", pdf("scan003.pdf"), "¿Cuál es el estado civil del comprador?", domain.SubtypeMarriageCertificate},
		{"folio question", pdf("scan004.pdf"), "Comparte el folio real del inmueble", domain.SubtypePropertyRegistryExtract},
		{"small image", img("IMG_2231.jpg", 1024), "", domain.SubtypeIdentification},
		{"large image", img("IMG_2232.jpg", 4<<20), "", domain.SubtypeDeed},
		{"default", pdf("documento.pdf"), "", domain.SubtypeDeed},
		{"keyword inside a word does not match", pdf("marine.pdf"), "", domain.SubtypeDeed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.Classify(tc.file, tc.question); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestClassifyIsIdempotent(t *testing.T) {
	c := mustClassifier(t)
	file := domain.RawFile{Name: "scan.pdf", MimeType: "application/pdf", Content: []byte("%PDF")}
	q := "envía la identificación de tu esposa"
	first := c.Classify(file, q)
	for i := 0; i < 10; i++ {
		if got := c.Classify(file, q); got != first {
			t.Fatalf("classification changed between calls: %s then %s", first, got)
		}
	}
}

func TestNewRejectsUnknownSubtype(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("filename:\n  - subtype: invoice\n    keywords: [factura]\n"), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	_, err := New(path)
	if err == nil || !strings.Contains(err.Error(), "invoice") {
		t.Fatalf("expected unknown subtype error, got %v", err)
	}
}

func TestNewLoadsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	rules := "filename:\n  - subtype: floor_plan\n    keywords: [layout]\n"
	if err := os.WriteFile(path, []byte(rules), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	c, err := New(path)
	if err != nil {
		t.Fatalf("load override: %v", err)
	}
	got := c.Classify(domain.RawFile{Name: "Layout v2.pdf", Content: []byte("x")}, "")
	if got != domain.SubtypeFloorPlan {
		t.Fatalf("expected override rule applied, got %s", got)
	}
}
