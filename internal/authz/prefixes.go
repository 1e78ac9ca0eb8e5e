package authz

// AdminPrefixes group the fine-grained permissions that amount to an
// administrative capability.
var AdminPrefixes = []string{
	"Users.",
	"Roles.",
	"Catalog.",
	"Configuration.",
	"Profiles.Verify",
	"ServiceRequests.ViewAll",
	"ServiceRequests.Assign",
	"ServiceRequests.Close",
}

// ProfessionalPrefixes group the permissions of a service provider.
var ProfessionalPrefixes = []string{
	"Agenda.",
	"Availability.",
	"ProfessionalServices.",
	"Appointments.Manage",
	"ServiceRequests.Respond",
}
