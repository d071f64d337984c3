// Package services provides the business logic of the lead service.
//
// This package contains:
//   - accepting website form posts and queueing them (LeadService)
//   - delivering queued submissions to the CRM (DeliveryService)
//   - housekeeping of delivered submissions (SchedulerService)
//   - admin authentication (AuthService)
package services
