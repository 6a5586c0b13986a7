package destination

import (
	"reflect"
	"testing"
)

func sampleRegistry() *Registry {
	return NewRegistry([]Destination{
		{ID: "support", Name: "Support", PhoneNumber: "(555) 111-2222"},
		{ID: "sales", Name: "Sales", PhoneNumber: ""},
		{ID: "Billing", Name: "Billing", PhoneNumber: "+1 555 333 4444"},
		{Name: "Escalations", PhoneNumber: "sip:oncall@pbx.example.com"},
	}, "support")
}

func TestResolveKnownDepartment(t *testing.T) {
	r := sampleRegistry()
	got, ok := r.Resolve("billing")
	if !ok {
		t.Fatal("expected billing to resolve")
	}
	if got != "+1 555 333 4444" {
		t.Errorf("expected billing number, got %q", got)
	}
}

func TestResolveIsCaseInsensitive(t *testing.T) {
	r := sampleRegistry()
	for _, name := range []string{"SUPPORT", "Support", " support "} {
		if got, ok := r.Resolve(name); !ok || got != "(555) 111-2222" {
			t.Errorf("Resolve(%q) = %q, %v", name, got, ok)
		}
	}
}

func TestResolveFallsBackToDefault(t *testing.T) {
	r := sampleRegistry()

	// configured but without a number
	if got, ok := r.Resolve("sales"); !ok || got != "(555) 111-2222" {
		t.Errorf("expected default number for sales, got %q, %v", got, ok)
	}
	// unknown department
	if got, ok := r.Resolve("legal"); !ok || got != "(555) 111-2222" {
		t.Errorf("expected default number for unknown department, got %q, %v", got, ok)
	}
}

func TestResolveWithoutDefaultNumber(t *testing.T) {
	r := NewRegistry([]Destination{
		{ID: "support", Name: "Support"},
		{ID: "sales", Name: "Sales"},
	}, "support")
	if got, ok := r.Resolve("sales"); ok {
		t.Errorf("expected no target, got %q", got)
	}
	if got, ok := r.Resolve("support"); ok {
		t.Errorf("expected no target, got %q", got)
	}
}

func TestNameKeyedDestination(t *testing.T) {
	r := sampleRegistry()
	if got, ok := r.Resolve("escalations"); !ok || got != "sip:oncall@pbx.example.com" {
		t.Errorf("expected name-keyed destination to resolve, got %q, %v", got, ok)
	}
}

func TestAvailableDepartmentsPreservesOrder(t *testing.T) {
	r := sampleRegistry()
	want := []string{"Support", "Billing", "Escalations"}
	if got := r.AvailableDepartments(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestDefaultDestinationsDisableTransfers(t *testing.T) {
	r := NewRegistry(DefaultDestinations(), "support")
	if r.TransfersEnabled() {
		t.Error("expected transfers disabled")
	}
	if got := r.AvailableDepartments(); len(got) != 0 {
		t.Errorf("expected no departments, got %v", got)
	}
	for _, dep := range []string{"support", "sales", "billing", "nope"} {
		if _, ok := r.Resolve(dep); ok {
			t.Errorf("expected %s not to resolve", dep)
		}
	}
}

func TestRepeatedKeyReplacesInPlace(t *testing.T) {
	r := NewRegistry([]Destination{
		{ID: "support", Name: "Support"},
		{ID: "sales", Name: "Sales", PhoneNumber: "5551112222"},
		{ID: "SUPPORT", Name: "Support Desk", PhoneNumber: "5553334444"},
	}, "support")
	want := []string{"Support Desk", "Sales"}
	if got := r.AvailableDepartments(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestFormatTarget(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"(555) 123-4567", "tel:+15551234567"},
		{"555.123.4567", "tel:+15551234567"},
		{"+15551234567", "tel:+15551234567"},
		{"15551234567", "tel:+15551234567"},
		{"+44 20 7946 0958", "tel:+442079460958"},
		{"tel:+15551234567", "tel:+15551234567"},
		{"sip:support@pbx.example.com", "sip:support@pbx.example.com"},
		{"SIP:support@pbx.example.com", "SIP:support@pbx.example.com"},
		{"12345", "tel:+12345"},
		{"ext. none", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := FormatTarget(tt.in); got != tt.want {
				t.Errorf("FormatTarget(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
