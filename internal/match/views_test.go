package match

import "testing"

func TestBuildTextViewsNormalizesAndTemplates(t *testing.T) {
	cfg := DefaultConfig()
	views, err := BuildTextViews("  Animals THAT   live underwater ", "Underwater\tanimals", cfg)
	if err != nil {
		t.Fatalf("BuildTextViews: %v", err)
	}
	if views.RawTheme != "animals that live underwater" {
		t.Fatalf("RawTheme = %q", views.RawTheme)
	}
	if views.RawGuess != "underwater animals" {
		t.Fatalf("RawGuess = %q", views.RawGuess)
	}
	if views.ProcessedTheme != "What connects this week's words? animals that live underwater" {
		t.Fatalf("ProcessedTheme = %q", views.ProcessedTheme)
	}
	if views.ForwardPremise != "The words share this connection: animals that live underwater." {
		t.Fatalf("ForwardPremise = %q", views.ForwardPremise)
	}
	if views.ForwardHypothesis != "In other words, the connection is underwater animals." {
		t.Fatalf("ForwardHypothesis = %q", views.ForwardHypothesis)
	}
	// The reverse pair swaps roles, not templates.
	if views.ReversePremise != "The words share this connection: underwater animals." {
		t.Fatalf("ReversePremise = %q", views.ReversePremise)
	}
	if views.ReverseHypothesis != "In other words, the connection is animals that live underwater." {
		t.Fatalf("ReverseHypothesis = %q", views.ReverseHypothesis)
	}
}

func TestBuildTextViewsRejectsBlankInputs(t *testing.T) {
	cfg := DefaultConfig()

	_, err := BuildTextViews("   ", "fine", cfg)
	inputErr, ok := IsInputError(err)
	if !ok || inputErr.Field != "theme" {
		t.Fatalf("expected theme InputError, got %v", err)
	}

	_, err = BuildTextViews("fine", "\t\n", cfg)
	inputErr, ok = IsInputError(err)
	if !ok || inputErr.Field != "guess" {
		t.Fatalf("expected guess InputError, got %v", err)
	}
}
