/*
Package security manages the agent's self-signed TLS identity.

On first start the agent generates a 10-year self-signed certificate with
the hostname as common name and SANs covering the hostname, loopback and
the externally observed address. The PEM pair is persisted with owner-only
permissions and reloaded on later starts, so the agent's identity is stable
across restarts. Orchestrators pin agents by address rather than by CA.
*/
package security
