package ai

const classificationPromptTemplate = `Sei un analista esperto di appalti pubblici e di eventi IT. Devi valutare quanto un bando, un appalto o un evento sia rilevante per l'azienda descritta sotto.
Rispondi sempre in italiano.

## Profilo azienda
%s

## Output
Restituisci un oggetto JSON con:
- "relevance_score" (intero 1-10): rilevanza per l'azienda.
- "category" (una tra: SAP, Data, AI, Cloud, Other): area di business.
- "reason" (stringa): motivazione sintetica del punteggio, 1-3 frasi.
- "key_requirements" (lista di stringhe): requisiti principali del bando, oppure i temi chiave se si tratta di un evento.
- "extracted_date" (stringa ISO YYYY-MM-DD o null): per gli eventi la data (di inizio) dell'evento, per bandi e concorsi la scadenza delle offerte. null se il testo non contiene date.
- "event_format" (solo eventi: "In presenza", "Streaming", "On demand", altrimenti null).
- "event_cost" (solo eventi: "Gratuito", "A pagamento", "Su invito", altrimenti null).
- "city" (solo eventi in presenza: la città, altrimenti null).
- "sector" (stringa o null): settore a cui si rivolge l'opportunità (es. PA, Sanità, Finanza).

Punteggi: 7 o più solo per corrispondenze chiare con le competenze chiave, 4-6 per corrispondenze parziali, 1-3 per corrispondenze scarse o assenti.`

const eventLinksPrompt = `Identifichi link a pagine di singoli eventi IT.

Ricevi gli URL estratti da una pagina "seed" (un portale eventi o la sezione eventi di un vendor). Restituisci SOLO gli URL che portano alla pagina di un evento IT specifico, preferendo:
- eventi in Italia o area EMEA;
- temi AI, Cloud, Data, SAP, innovazione digitale, cybersecurity, DevOps, PA digitale;
- conferenze, summit, workshop, webinar, meetup, hackathon.

Escludi pagine generiche (home, about, privacy, login, careers), articoli di blog o news, documentazione, prodotti, social network e le pagine elenco eventi.

Formato: array JSON [{"url": "https://...", "reason": "motivazione breve"}]. Nessun link rilevante: [].
Al massimo %d URL.`

const tenderLinksPrompt = `Identifichi bandi pubblici italiani rilevanti per un'azienda IT.

Ricevi gli URL estratti da un portale bandi regionale. Restituisci SOLO gli URL di bandi specifici su:
- innovazione, ricerca e sviluppo tecnologico;
- digitalizzazione, transizione digitale, Industria 4.0;
- servizi IT, consulenza informatica, software;
- AI, cloud, dati, cybersecurity;
- fondi PNRR, FESR, FSE per ambiti digitali;
- cluster tecnologici, smart city, PA digitale.

Escludi bandi di settori non IT, pagine generiche (home, FAQ, login, normativa, privacy), allegati e moduli, link ad altri siti.

Formato: array JSON [{"url": "https://...", "reason": "motivazione breve"}]. Nessun link rilevante: [].
Al massimo %d URL.`

const eventExtractionPrompt = `Estrai gli eventi IT presenti nel testo di una pagina web.

Per ogni evento restituisci un oggetto con:
- "title": nome dell'evento;
- "description": 2-3 frasi di descrizione;
- "event_date": data ISO YYYY-MM-DD (la data di inizio se dura più giorni), null se assente;
- "location": città, sede oppure "online", null se assente;
- "url": URL specifico dell'evento se diverso da quello della pagina, altrimenti null.

Restituisci un array JSON. Se la pagina non contiene eventi IT rilevanti restituisci [].
Considera eventi futuri o recenti su tecnologia, AI, cloud, dati, SAP, innovazione e PA digitale.`

const tenderExtractionPrompt = `Estrai le informazioni di un bando pubblico italiano (regionale, nazionale, PNRR, FESR) dal testo di una pagina web.

Restituisci un singolo oggetto JSON con:
- "title": titolo completo del bando;
- "description": 3-5 frasi su obiettivi e ambito;
- "deadline": scadenza ISO YYYY-MM-DD ("scade il", "scadenza", "termine presentazione domande"), null se assente;
- "contracting_authority": ente che pubblica il bando;
- "estimated_value": dotazione finanziaria in EUR, null se assente;
- "requirements": al massimo 5 requisiti principali;
- "url": URL della pagina di DETTAGLIO del bando. Se la pagina è un elenco, scegli tra i link forniti quello della scheda del bando estratto.

Se la pagina non contiene un bando rilevante restituisci {"title": null}.`

const searchPromptTemplate = `Cerchi bandi pubblici ed eventi IT in Italia e in Europa.

Esegui la ricerca con Google Search e, per ogni risultato pertinente e recente, restituisci un oggetto con:
- "url": URL della pagina;
- "title": titolo del risultato;
- "snippet": breve descrizione;
- "type": "bando" oppure "evento".

Restituisci SOLO un array JSON con al massimo %d risultati.
Escludi Wikipedia, dizionari, social network, homepage generiche e link a PDF o file scaricabili.
Preferisci bandi pubblici (gare, appalti, finanziamenti, PNRR), eventi IT (conferenze, summit, workshop, webinar) e portali istituzionali.`

const searchPageExtractionPrompt = `Analizza il testo di una pagina web e stabilisci se descrive un bando pubblico o un evento IT.

Restituisci un singolo oggetto JSON con:
- "type": "bando", "evento" oppure "non_rilevante";
- "title": titolo del bando o dell'evento;
- "description": 3-5 frasi di sintesi;
- "deadline": scadenza o data dell'evento ISO YYYY-MM-DD, null se assente;
- "contracting_authority": ente (bandi) oppure organizzatore (eventi);
- "estimated_value": valore in EUR per i bandi, null se assente;
- "location": luogo per gli eventi, null altrimenti;
- "country": codice ISO a 2 lettere (predefinito "IT").

Se la pagina non è rilevante restituisci {"type": "non_rilevante"}.`

const dateExtractionPrompt = `Estrai una data dal testo di una pagina web relativa a un bando di gara, a un concorso pubblico o a un evento IT.

Cerca la data più rilevante:
- per bandi, gare e concorsi la SCADENZA di presentazione delle offerte o domande ("scadenza", "termine di presentazione", "termine ultimo", "deadline for receipt of tenders");
- per eventi e conferenze la DATA DELL'EVENTO ("si terrà il", "data evento", "when", la data in intestazione).

Restituisci SOLO un oggetto JSON:
{"date": "YYYY-MM-DD", "confidence": "high" | "medium" | "low", "source_text": "frammento da cui hai preso la data"}

Per un intervallo (es. "19-20 maggio 2026") usa la data di inizio.
Se non trovi una data rilevante restituisci {"date": null, "confidence": "none", "source_text": null}.`
